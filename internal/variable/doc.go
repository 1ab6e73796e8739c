// Package variable provides the per-process variable registry.
//
// A variable binds a name to a declared element type and a global shape
// that is fixed for the variable's lifetime. Registration is purely
// local: each process owns its declaration, and the same name declared
// by cooperating processes is reconciled by value, never by shared
// pointers.
//
// Define is idempotent for identical redeclarations and rejects
// conflicting ones, so a writer restarting its declaration loop and a
// reader importing definitions from an admitted step both converge on
// one handle per name.
package variable
