// Package sqlite implements auth storage over a single SQLite file.
package sqlite
