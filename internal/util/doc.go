// Package util holds small helpers shared by the storage backends and the engine.
package util
