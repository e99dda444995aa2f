package handlers

import (
	"bytes"
	"crypto/subtle"
	"runtime"
	"runtime/pprof"

	"github.com/gofiber/fiber/v2"
)

type SystemHandle struct {
	key string
}

func RegisterSystem(system fiber.Router, key string) {
	handler := SystemHandle{key: key}

	system.Use(handler.Verify)

	system.Get("/info", handler.GetServerInfo)
	system.Post("/clean", handler.TriggerGC)
	system.Post("/stack", handler.GetStackInfo)
}

// GetServerInfo 获取服务器信息
func (s *SystemHandle) GetServerInfo(ctx *fiber.Ctx) error {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return ok(ctx, fiber.Map{
		"go_version":  runtime.Version(),
		"cpu_num":     runtime.NumCPU(),
		"goroutines":  runtime.NumGoroutine(),
		"mem_alloc":   m.Alloc,
		"heap_alloc":  m.HeapAlloc,
		"total_alloc": m.TotalAlloc,
		"sys":         m.Sys,
	})
}

// TriggerGC 垃圾主动回收
func (s *SystemHandle) TriggerGC(ctx *fiber.Ctx) error {
	runtime.GC()
	return ok(ctx, "ok")
}

// GetStackInfo 获取协程堆栈
func (s *SystemHandle) GetStackInfo(ctx *fiber.Ctx) error {
	var buf bytes.Buffer
	if err := pprof.Lookup("goroutine").WriteTo(&buf, 1); err != nil {
		return err
	}
	return ok(ctx, buf.String())
}

// Verify 校验 ?key= 是否为 APP_SYSTEM_KEY，未配置时整组接口关闭
func (s *SystemHandle) Verify(c *fiber.Ctx) error {
	if s.key == "" {
		return fiber.NewError(fiber.StatusServiceUnavailable, "system endpoints disabled")
	}
	requestKey := c.Query("key")
	if requestKey == "" || subtle.ConstantTimeCompare([]byte(requestKey), []byte(s.key)) != 1 {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid key")
	}
	return c.Next()
}
