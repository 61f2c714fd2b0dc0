package mediaproc

import "github.com/google/wire"

// ProviderSet 暴露进程运行器。
var ProviderSet = wire.NewSet(NewRunner)
