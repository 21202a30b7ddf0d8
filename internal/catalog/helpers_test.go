package catalog

import logx "shopwatch/pkg/logx"

func nilLogger() logx.Logger { return logx.Nop() }
