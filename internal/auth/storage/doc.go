// Package storage defines persistence contracts for the auth core.
package storage
