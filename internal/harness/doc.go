// Package harness runs end-to-end engine scenarios.
//
// A scenario seeds a scratch document store, drives the production engine
// and the replace-user transition through a sequence of steps, and asserts
// on the resulting state.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	settings:
//	  transitions: { create_user_for_contacts: true }
//	  token_login: { enabled: true }
//	  app_url: https://app.example.org
//	users:
//	  - { username: alice, contact_id: p1, roles: [chw], password: secret }
//	docs:
//	  - { _id: p1, type: person, name: Alice }
//	steps:
//	  - update:
//	      id: p1
//	      set: { user_for_contact: { replace: { alice: { status: READY, replacement_contact_id: p2 } } } }
//	  - drain: true
//	assertions:
//	  - type: final_state
//	    table: accounts
//	    where: { contact_id: p2 }
//	    expect: { token_login: true }
//	  - type: login
//	    username: alice
//	    password: secret
//	    succeeds: false
//
// # Steps
//
// Each step sets exactly one of put, update, delete, settings, drain or
// replay. Document writes only append to the change feed; nothing is
// processed until a drain (or replay) step runs the engine.
//
// # Assertion Types
//
//   - final_state: matches records of the accounts, messages, docs, info or
//     runs table
//   - run_count: counts transition runs recorded for a document
//   - login: checks whether a username/password pair authenticates
//
// # Deterministic Testing
//
// The engine runs with one worker, a stepping wall clock
// (testutil.DeterministicClock), sequential run and message ids
// (testutil.SequenceGenerator) and the scenario's username suffixes, so the
// same scenario always produces the same state. Login tokens are redacted
// from collected state.
package harness
