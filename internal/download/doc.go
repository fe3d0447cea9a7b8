// Package download transfers a single remote resource into a scratch file.
//
// An Engine probes the resource with HEAD. When the origin advertises byte
// ranges and a known length, the body is split into segments that are
// fetched in parallel and written at their offsets; a failed segment resumes
// from its last written byte. Otherwise a single GET streams the body.
//
// Every failure is reported as a *TransferError, which matches ErrTransfer
// under errors.Is. The resulting Payload is consumed by the caller (usually
// the cache store) and removes its scratch file on Close.
package download
