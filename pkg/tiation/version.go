package tiation

// Version is the SDK release version.
const Version = "0.4.0"
