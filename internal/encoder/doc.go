// Package encoder runs the external drapto encoder for a composition job.
//
// Two backends satisfy Encoder: CLI shells out to the drapto binary with
// --progress-json and decodes one JSON object per line, while Library links
// the drapto Go package and adapts its Reporter callbacks. Both report
// progress through the same Update callback and return the artifact path.
package encoder
