// Package dedupe tracks recently accepted writes so a retried message send
// is acknowledged as a duplicate instead of being stored and pushed twice.
package dedupe
