package telemetry

import (
	"time"

	"hostpulse/internal/network/probe"
)

// Snapshot is the published network state. A new value replaces the old one wholesale.
//
// Ping 0 means unmeasured. Download and upload reflect the last accepted speed test when
// one exists, the passive counter delta otherwise.
type Snapshot struct {
	ConnectionType probe.ConnectionType `json:"connectionType"`
	SignalStrength int                  `json:"signalStrength"`
	DownloadSpeed  float64              `json:"downloadSpeed"`
	UploadSpeed    float64              `json:"uploadSpeed"`
	Ping           float64              `json:"ping"`
	Jitter         float64              `json:"jitter"`
	PacketLoss     float64              `json:"packetLoss"`
	Stability      float64              `json:"stability"`
	IPAddress      string               `json:"ipAddress"`
	DNSServer      string               `json:"dnsServer"`
	MACAddress     string               `json:"macAddress"`
}

// BandwidthSample is one point of the Mbps history.
type BandwidthSample struct {
	Timestamp   time.Time `json:"timestamp"`
	Download    float64   `json:"download"`
	Upload      float64   `json:"upload"`
	IsSpeedTest bool      `json:"isSpeedTest"`
}

type LatencySample struct {
	Timestamp time.Time `json:"timestamp"`
	Ping      float64   `json:"ping"`
}

// TransferPoint is the running byte total since the cache took its first reading.
type TransferPoint struct {
	Timestamp                   time.Time `json:"timestamp"`
	TotalBytesSent              uint64    `json:"totalBytesSent"`
	TotalBytesReceived          uint64    `json:"totalBytesReceived"`
	TotalBytesSentFormatted     string    `json:"totalBytesSentFormatted"`
	TotalBytesReceivedFormatted string    `json:"totalBytesReceivedFormatted"`
}

// IOData is the interface-level view of the last refresh interval.
type IOData struct {
	UploadSpeed      float64  `json:"uploadSpeed"`
	DownloadSpeed    float64  `json:"downloadSpeed"`
	UploadPackets    uint64   `json:"uploadPackets"`
	DownloadPackets  uint64   `json:"downloadPackets"`
	ActiveInterfaces []string `json:"activeInterfaces"`
	BytesSent        uint64   `json:"bytesSent"`
	BytesReceived    uint64   `json:"bytesReceived"`

	TotalBytesSent              uint64 `json:"totalBytesSent"`
	TotalBytesReceived          uint64 `json:"totalBytesReceived"`
	TotalBytesSentFormatted     string `json:"bytesSentFormatted"`
	TotalBytesReceivedFormatted string `json:"bytesReceivedFormatted"`
}

// ConnectionQuality is the link-quality subset of the snapshot plus the latency history.
type ConnectionQuality struct {
	Ping           float64         `json:"ping"`
	Jitter         float64         `json:"jitter"`
	PacketLoss     float64         `json:"packetLoss"`
	Stability      float64         `json:"stability"`
	LatencyHistory []LatencySample `json:"latencyHistory"`
}
