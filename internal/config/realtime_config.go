package config

import "time"

type RealtimeConfig interface {
	GetReconnectDelay() time.Duration
	GetHeartBeat() time.Duration
}

type Realtime struct{}

var _ RealtimeConfig = Realtime{}

func (Realtime) GetReconnectDelay() time.Duration {
	return GetEnvDuration("WS_RECONNECT_DELAY", 5*time.Second)
}

func (Realtime) GetHeartBeat() time.Duration {
	return GetEnvDuration("WS_HEARTBEAT", 4*time.Second)
}
