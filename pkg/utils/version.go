// Package utils holds build identity stamped at link time via -ldflags.
package utils

var (
	Version   = "dev"
	Sha       = "HEAD"
	Buildtime = "dev"
)
