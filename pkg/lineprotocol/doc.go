// Package lineprotocol parses line-protocol text into typed rows for
// the write path. It is a small, literal tokenizer rather than a
// generalized grammar or a performance-tuned scanner: a straight-line
// pass sufficient to drive admission end to end. It supports the
// common subset — measurement, optional
// comma-separated tags, space-separated fields, optional trailing
// timestamp — with backslash escapes for commas, spaces, and equals
// signs in identifiers, and double-quoted string field values.
package lineprotocol
