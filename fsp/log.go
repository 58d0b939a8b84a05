package fsp

import "github.com/sirupsen/logrus"

// Logger is the package-level structured logger. Callers may replace it
// (e.g. with a field-bound child logger) before opening any tablespace.
var Logger = logrus.StandardLogger()
