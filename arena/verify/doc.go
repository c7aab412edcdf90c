// Package verify checks the structural invariants of an arena image. It reads
// raw bytes only, so it can run on a file that will not open, on a copy, or
// against a live mapping between allocator calls.
//
// Checks:
//   - Header: magic, byte order, version, geometry, capacity, top
//   - SequenceNumbers: primary == secondary (no interrupted transaction)
//   - FreeRuns: run list links, bounds, overlaps, empty size records
//   - SlotLists: class list links, owning page, bitmap bit clear
//   - PageAccounting: each committed page has exactly one owner, slot
//     bitmaps agree with their lists, large records are consistent
//
// Quick start:
//
//	data, _ := os.ReadFile("heap.arena")
//	if err := verify.AllInvariants(data); err != nil {
//	    fmt.Printf("Validation failed: %v\n", err)
//	}
//
// Every failure is a *ValidationError; AllInvariants joins them with
// errors.Join once the header itself is sound. Structure skips the sequence
// check so a live arena can be verified mid-transaction.
package verify
