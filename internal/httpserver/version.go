package httpserver

// Version is the Observatory release identifier reported by /health.
const Version = "0.1.0"
