package vm

import "github.com/tliron/commonlog"

// Loggers used by the core. The CLI installs a backend; embedders that do
// not configure commonlog get its default (discarding) behavior.
var (
	gcLog = commonlog.GetLogger("lumen.gc")
	vmLog = commonlog.GetLogger("lumen.vm")
)
