// Package harness runs page-state scenarios: recorded-session fixtures
// written as YAML, evaluated through the real store, extractor and
// generator, and checked against expectations and golden exports.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: todo_list
//	description: "Two items in the list"
//	generator: todo            # optional, defaults to "scenario"
//	sessions:
//	  - id: s1
//	    tab: 1                 # optional, defaults to 1
//	    state: two-items
//	    window: { start: 1000, end: 2000 }
//	    repeat: 2              # optional, records s1-1 and s1-2
//	    frames:
//	      - { id: 2, parent: 1, name: ad }
//	    events:
//	      - { at: 0, do: reset, url: "https://todo.test/", html: "<ul></ul>" }
//	      - { at: 1500, do: insert, xpath: /html/body/ul, html: "<li>a</li><li>b</li>" }
//	      - { at: 1600, do: storage, storage: localStorage, origin: "https://todo.test", key: n, value: "2" }
//	      - { at: 1700, do: resource, url: "https://todo.test/api", method: POST, resource_type: Fetch }
//	expect:
//	  - state: two-items
//	    has:
//	      - { type: xpath, args: ["count(/HTML/BODY/UL/LI)"], result: 2 }
//	    absent:
//	      - { type: xpath, args: ["count(/HTML/BODY/OL)"] }
//	    frames: [1]
//	    sessions: [s1-1, s1-2]
//	    differs: [empty]
//	    count: 4
//
// # Events
//
// Each event has a millisecond timestamp (at), an optional frame (default
// the top frame) and a kind (do):
//
//   - navigate: url, reason
//   - reset: replaces the document with html; with url it also records the navigation
//   - insert: appends the html fragment under xpath
//   - remove, text, attr, attr_del: mutate the node at xpath
//   - storage: storage, action (add/update/remove), origin, key, value, database, store
//   - resource: url, method, resource_type, status
//
// Events are recorded in file order, which breaks timestamp ties.
//
// # Deterministic Testing
//
// Every run uses a fresh in-memory SQLite store whose session timestamps
// come from testutil.DeterministicClock, so two runs of the same scenario
// produce byte-identical exports for golden file comparison.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/todo.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
