// Package audio handles sample buffering and WAV container encoding.
// It accumulates captured float frames in arrival order and converts the
// flattened signal into a canonical 16-bit mono PCM WAV file for upload.
package audio
