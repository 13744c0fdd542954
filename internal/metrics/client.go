package metrics

import (
	"context"

	"inferbench/internal/inference"
)

// InstrumentClient 包装推理客户端，把每次调用计入Prometheus指标
func InstrumentClient(client inference.Client) inference.Client {
	return &instrumentedClient{Client: client}
}

type instrumentedClient struct {
	inference.Client
}

func (c *instrumentedClient) Infer(ctx context.Context, req inference.InferRequest) *inference.InferResult {
	res := c.Client.Infer(ctx, req)
	RecordInference(req.Model, string(res.Status), res.LatencyMs/1000)
	return res
}

func (c *instrumentedClient) CheckStatus(ctx context.Context) error {
	err := c.Client.CheckStatus(ctx)
	SetBackendUp(err == nil)
	return err
}
