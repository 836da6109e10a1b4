package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/squamishaccess/squamishaccess-functions/internal/azure"
	"github.com/squamishaccess/squamishaccess-functions/internal/config"
	"github.com/squamishaccess/squamishaccess-functions/internal/paypal"
)

// TestEnvelopeOptions 验证部署配置到信封适配选项的映射。
func TestEnvelopeOptions(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.EnvelopeConfig
		want azure.Options
	}{
		{
			name: "defaults map to header id and outputs shape",
			cfg:  config.EnvelopeConfig{},
			want: azure.Options{IDSource: azure.IDSourceHeader, Shape: azure.ShapeOutputs, ForceSuccessStatus: true},
		},
		{
			name: "legacy deployment variants",
			cfg:  config.EnvelopeConfig{IDSource: "metadata", Shape: "returnvalue"},
			want: azure.Options{IDSource: azure.IDSourceMetadata, Shape: azure.ShapeReturnValue, ForceSuccessStatus: true},
		},
		{
			name: "status propagation inverts the forced 200",
			cfg:  config.EnvelopeConfig{PropagateStatus: true},
			want: azure.Options{IDSource: azure.IDSourceHeader, Shape: azure.ShapeOutputs},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := envelopeOptions(tt.cfg)
			if got.IDSource != tt.want.IDSource {
				t.Errorf("IDSource = %q, want %q", got.IDSource, tt.want.IDSource)
			}
			if got.Shape != tt.want.Shape {
				t.Errorf("Shape = %q, want %q", got.Shape, tt.want.Shape)
			}
			if got.ForceSuccessStatus != tt.want.ForceSuccessStatus {
				t.Errorf("ForceSuccessStatus = %t, want %t", got.ForceSuccessStatus, tt.want.ForceSuccessStatus)
			}
		})
	}
}

// TestRouterReturnValueShape 验证配置为 returnvalue 形态的部署
// 从路由器出来的响应就是简化信封。
func TestRouterReturnValueShape(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	h := NewHandler(HandlerConfig{
		Paypal:    &MockVerifier{verdict: paypal.StatusVerified},
		Mailchimp: NewMockMailchimp(),
		Logger:    logger,
	})
	router := NewRouter(&RouterConfig{
		Handler:     h,
		Envelope:    config.EnvelopeConfig{Shape: "returnvalue"},
		ServiceName: "test",
		Logger:      logger,
	})

	envelope := `{"Data":{"req":{"Body":"` + ipnPayload(nil) + `"}}}`
	req := httptest.NewRequest(http.MethodPost, "/Paypal-IPN", strings.NewReader(envelope))
	req.Header.Set("X-Azure-Functions-InvocationId", "inv-rv")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("transport status = %d", w.Code)
	}
	var out struct {
		ReturnValue string   `json:"ReturnValue"`
		Logs        []string `json:"Logs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not a ReturnValue envelope: %v", err)
	}
	if out.ReturnValue != "IPN processed." {
		t.Errorf("ReturnValue = %q", out.ReturnValue)
	}
	if strings.Contains(w.Body.String(), "Outputs") {
		t.Error("a returnvalue deployment must not emit the Outputs shape")
	}
}
