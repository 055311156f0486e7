// Package rank orders scored members and assigns their positions.
package rank
