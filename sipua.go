// Package sipua is a SIP user-agent library for placing and receiving
// calls over UDP or TCP, registering with a registrar, answering Digest
// authentication challenges and observing the signalling flow.
//
// The protocol core lives in the sip package; sipua ties the transport,
// transaction, dialog and authentication layers together behind the
// [UserAgent] facade.
package sipua

// Version is the current sipua package version.
var Version = "0.1.0"
