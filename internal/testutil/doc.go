// Package testutil provides test fixtures and helpers for the engine: a controllable
// clock, PKCE pairs, client credential headers and client registration.
package testutil
