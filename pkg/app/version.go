package app

// Version is the dashboard build version, set with
// -ldflags "-X github.com/small-frappuccino/guilddash/pkg/app.Version=v1.2.3".
var Version = "dev"
