package util

import (
	"sync"

	"go.uber.org/zap"
)

// L 和 S 在 SetupLog 之前是空操作的 logger，测试里无需初始化
var L = zap.NewNop()
var S = L.Sugar()
var setupLock sync.Mutex

// SetupLog 初始化全局 logger。debug 为 true 时使用开发模式输出。
func SetupLog(debug bool) {
	setupLock.Lock()
	defer setupLock.Unlock()
	var err error
	var l *zap.Logger
	if debug {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return
	}
	L = l
	S = L.Sugar()
}
