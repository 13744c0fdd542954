package monitor

import (
	"context"

	"inferbench/internal/inference"
)

// WrapClient 包装推理客户端，把每次Infer的结果写入监控。
// mon为nil时原样返回client。
func WrapClient(client inference.Client, mon *Monitor) inference.Client {
	if mon == nil {
		return client
	}
	return &recordingClient{Client: client, mon: mon}
}

type recordingClient struct {
	inference.Client
	mon *Monitor
}

func (c *recordingClient) Infer(ctx context.Context, req inference.InferRequest) *inference.InferResult {
	res := c.Client.Infer(ctx, req)
	c.mon.RecordRequest(req, res)
	return res
}
