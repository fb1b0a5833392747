package lightning

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	decodepay "github.com/nbd-wtf/ln-decodepay"
)

type LndRestConfig struct {
	Host         string
	CertPath     string
	MacaroonPath string
}

// LndRestClient talks to an lnd node over its REST proxy. Useful when
// the gRPC port is not reachable.
type LndRestClient struct {
	host     string
	macaroon string // hex encoded
	client   *http.Client
}

func SetupLndRestClient(config LndRestConfig) (*LndRestClient, error) {
	macaroonBytes, err := os.ReadFile(config.MacaroonPath)
	if err != nil {
		return nil, fmt.Errorf("error reading macaroon: %v", err)
	}

	cert, err := os.ReadFile(config.CertPath)
	if err != nil {
		return nil, fmt.Errorf("error reading tls cert: %v", err)
	}
	certPool := x509.NewCertPool()
	certPool.AppendCertsFromPEM(cert)

	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: certPool},
		},
	}

	return &LndRestClient{
		host:     config.Host,
		macaroon: hex.EncodeToString(macaroonBytes),
		client:   client,
	}, nil
}

func (lnd *LndRestClient) do(method, url string, body any) (map[string]any, error) {
	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequest(method, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Add("Grpc-Metadata-macaroon", lnd.macaroon)

	resp, err := lnd.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var res map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, err
	}
	return res, nil
}

func (lnd *LndRestClient) ConnectionStatus() error {
	_, err := lnd.do(http.MethodGet, lnd.host+"/v1/getinfo", nil)
	return err
}

func (lnd *LndRestClient) CreateInvoice(amount uint64) (Invoice, error) {
	body := map[string]any{"value": amount}
	res, err := lnd.do(http.MethodPost, lnd.host+"/v1/invoices", body)
	if err != nil {
		return Invoice{}, fmt.Errorf("lnd.CreateInvoice: %v", err)
	}

	pr, ok := res["payment_request"].(string)
	if !ok {
		return Invoice{}, fmt.Errorf("lnd.CreateInvoice: unexpected response %v", res)
	}
	rhash, _ := res["r_hash"].(string)
	hashBytes, err := base64.StdEncoding.DecodeString(rhash)
	if err != nil {
		return Invoice{}, fmt.Errorf("lnd.CreateInvoice: invalid r_hash: %v", err)
	}

	return Invoice{
		PaymentRequest: pr,
		PaymentHash:    hex.EncodeToString(hashBytes),
		Amount:         amount,
	}, nil
}

func (lnd *LndRestClient) InvoiceStatus(hash string) (Invoice, error) {
	url := lnd.host + "/v2/invoices/lookup?payment_hash=" + hexToURLSafeBase64(hash)
	res, err := lnd.do(http.MethodGet, url, nil)
	if err != nil {
		return Invoice{}, err
	}

	invoice := Invoice{PaymentHash: hash}
	if pr, ok := res["payment_request"].(string); ok {
		invoice.PaymentRequest = pr
	}
	if state, ok := res["state"].(string); ok {
		invoice.Settled = state == "SETTLED"
	}
	if preimage, ok := res["r_preimage"].(string); ok && invoice.Settled {
		preimageBytes, err := base64.StdEncoding.DecodeString(preimage)
		if err == nil {
			invoice.Preimage = hex.EncodeToString(preimageBytes)
		}
	}
	return invoice, nil
}

func (lnd *LndRestClient) SendPayment(request string) (PaymentStatus, error) {
	body := map[string]any{"payment_request": request}
	res, err := lnd.do(http.MethodPost, lnd.host+"/v1/channels/transactions", body)
	if err != nil {
		return PaymentStatus{}, fmt.Errorf("error making payment: %v", err)
	}

	if paymentErr, ok := res["payment_error"].(string); ok && len(paymentErr) > 0 {
		return PaymentStatus{}, fmt.Errorf("error making payment: %v", paymentErr)
	}

	preimage, _ := res["payment_preimage"].(string)
	preimageBytes, err := base64.StdEncoding.DecodeString(preimage)
	if err != nil {
		return PaymentStatus{}, fmt.Errorf("invalid preimage in response: %v", err)
	}

	return PaymentStatus{Preimage: hex.EncodeToString(preimageBytes), Paid: true}, nil
}

func (lnd *LndRestClient) FeeReserve(request string) (uint64, uint64, error) {
	invoice, err := decodepay.Decodepay(request)
	if err != nil {
		return 0, 0, fmt.Errorf("error decoding invoice: %v", err)
	}

	amount := uint64(invoice.MSatoshi / 1000)
	return amount, feeReserve(amount), nil
}

// lnd's v2 endpoints take the payment hash as url-safe base64.
func hexToURLSafeBase64(hash string) string {
	hashBytes, err := hex.DecodeString(hash)
	if err != nil {
		return hash
	}
	return base64.RawURLEncoding.EncodeToString(hashBytes)
}
