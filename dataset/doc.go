// Package dataset loads the tabular training data and describes its layout.
//
// The first row of a sheet is the header, the last column is the target and
// every other column is a feature. A feature column is numeric when every one
// of its cells parses as a finite number and categorical otherwise.
package dataset
