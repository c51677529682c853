// Package product implements persistence of the installed package records.
//
// The FileRepository stores the records as a protobuf Struct document in a
// JSON file and satisfies the product configuration contract of the
// deployment actions.
package product
