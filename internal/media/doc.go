// Package media models local media for a mesh participant: per-kind track
// handles (audio, video, screen), the disabled placeholders sent in place of
// unavailable or disabled devices, and the process-wide LocalMediaState.
package media
