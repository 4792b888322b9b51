package wire

// Envelope prefixes are client-side discriminators only. The server never inspects or branches on them — a cipher
// field is an opaque string end to end. They are declared here purely so handlers and tests can assert that a prefix
// was carried through unmodified, never to parse the content that follows it.
const (
	EnvelopeDMHybrid    = "EC1:"  // base64(JSON{v,alg,ek,iv,ct}), RSA-OAEP wrapped AES-GCM key
	EnvelopeDMPlaintext = "ECP1:" // base64(utf-8), compatibility mode, still opaque to the server
	EnvelopeRoom        = "ECR1:" // base64(JSON{v,alg,iv,ct,keys:{username:wrappedKey}})
	EnvelopeGroup       = "ECG1:" // same shape as EnvelopeRoom
)
