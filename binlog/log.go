package binlog

import "github.com/sirupsen/logrus"

// Logger is the package-level structured logger; callers may swap in a
// field-bound child logger before calling Open.
var Logger = logrus.StandardLogger()
