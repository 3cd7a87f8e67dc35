// Package vm implements the lumen virtual machine.
//
// This package contains:
//   - Tagged value representation and interned strings
//   - Tables, closures, upvalues and userdata
//   - Register-based bytecode dispatcher
//   - Call engine with protected calls and tail calls
//   - Metamethod (tag method) resolution
//   - Incremental tri-color garbage collector with weak tables,
//     ephemerons and finalizers
//   - Coroutines
//
// Code arrives as a verified Prototype tree; compiling source text is the
// job of a front end outside this package.
package vm
