package models

// AccelSample 一次三轴加速度采样（来自移动端加速度计，单位 m/s²）
type AccelSample struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Z           float64 `json:"z"`
	TimestampMS int64   `json:"timestamp"` // Unix 毫秒时间戳（采样时刻）
}

// ShakeEvent 一次去抖后的摇晃事件（瞬时信号，不持久化、不排队）
type ShakeEvent struct {
	GForce       float64 `json:"g_force"`     // 触发时的合成重力值
	OccurredAtMS int64   `json:"occurred_at"` // Unix 毫秒时间戳
}
