// Package model provides the document, info and account types shared by
// every sentinel package.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import model; model imports nothing internal.
//
// Key design constraints:
//   - Documents are schemaless JSON objects decoded with json.Number
//   - Engine-owned fields (_rev, errors) never take part in the logical
//     change hash
//   - All JSON tags use snake_case
package model
