package ir

// CodecVersion is bumped whenever AssertionKey or StateID output changes.
// It is part of both hash domains, so keys from different versions never meet.
const CodecVersion = "1"
