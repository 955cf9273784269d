// Package unit loads and reinitializes units: Starlark source files whose
// top-level definitions form one independently reloadable body of code.
//
// Besides the Starlark universe, a unit sees one builtin:
//
//	defclass(name, **members)
//
// which declares a class owned by the unit. Callable members become methods,
// the rest become class constants. A class's qualified name is
// "<unit>.<name>", so it stays the same across reinitializations.
//
// A unit may load other units:
//
//	load("shapes.star", "Circle")   # file relative to this unit
//	load("lib.colors", "RED")       # unit name
//
// Failures of the unit's own source (syntax, resolution, or evaluation of
// the top-level body) are reported as *errors.DefinitionError. Failing to
// read the file is an ordinary error.
package unit
