// Package trafficshaping 提供限速拨号器，用于在受控带宽下复现测速结果
package trafficshaping

import (
	"context"
	"net"

	"github.com/google/martian/v3/trafficshape"
)

// DialFunc 与 net.Dialer.DialContext 签名一致
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Dialer 在底层拨号结果上施加读写比特率限制
type Dialer struct {
	bitrate int64
	dial    DialFunc
}

// NewDialer 包装 dial，把每个连接的读写速率限制为 bitrate (bit/s)
func NewDialer(bitrate int64, dial DialFunc) *Dialer {
	if dial == nil {
		dial = new(net.Dialer).DialContext
	}
	return &Dialer{bitrate: bitrate, dial: dial}
}

// DialContext 拨号并返回经过流量整形的连接
func (d *Dialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	conn, err := d.dial(ctx, network, address)
	if err != nil {
		return nil, err
	}
	listener := trafficshape.NewListener(new(net.TCPListener))
	listener.SetReadBitrate(d.bitrate)
	listener.SetWriteBitrate(d.bitrate)
	return listener.GetTrafficShapedConn(conn), nil
}
