// Package harness runs multi-run ingestion scenarios against the real
// pipeline, store and status tracker with scripted providers.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	stale_days_default: 5          # optional
//	matrix:                        # an inline sources matrix
//	  version: 1
//	  series:
//	    - id: us_10y
//	      provider: fred
//	      provider_symbol: DGS10
//	      category: rates
//	runs:
//	  - as_of: "2024-03-01"
//	    fetch:                     # scripted fetch per series id
//	      us_10y:
//	        rows: [["2024-02-28", "4.25"]]
//	    expect:
//	      us_10y: {status: ok, new_points: 1}
//	assertions:
//	  - type: status_entry
//	    series: us_10y
//	    expect: {status: ok, last_error: null}
//
// A series absent from a run's fetch map gets the stub default, status
// missing with message "no stub result". A fetch entry either carries rows
// (optionally with custom columns), an adapter error, or a status without
// data (no_data: true).
//
// # Assertion Types
//
//   - status_entry: subset match against the final matrix status entry
//   - stored_points: number of stored points for a series
//   - stored_value: stored value on a date (null for a missing observation)
//   - fetch_count: number of provider calls for a series across all runs
//
// # Determinism
//
// Every run pins its reference time to as_of (midnight UTC), so results, the
// status file and golden snapshots are reproducible.
package harness
