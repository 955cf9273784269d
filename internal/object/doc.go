// Package object implements the patchable object model of a unit.
//
// A [Class] is one version of a type declared by a unit. Calling it builds an
// [Instance], which holds its fields and an explicit dispatch table mapping
// each method name to a [BoundMethod]. Reloading a unit produces new Class
// values; existing instances are patched by rebinding their dispatch entries
// with [Instance.Bind], so their identity and fields never change.
//
// Attribute lookup on an instance consults the dispatch table, then fields,
// then class constants. Fields can be assigned from unit code; names bound as
// methods cannot.
package object
