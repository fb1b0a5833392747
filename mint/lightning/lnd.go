package lightning

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/macaroons"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	macaroon "gopkg.in/macaroon.v2"
)

type LndConfig struct {
	GRPCHost     string
	CertPath     string
	MacaroonPath string
}

// LndClient talks to an lnd node over its gRPC interface.
type LndClient struct {
	grpcClient lnrpc.LightningClient
	conn       *grpc.ClientConn
}

func SetupLndClient(config LndConfig) (*LndClient, error) {
	creds, err := credentials.NewClientTLSFromFile(config.CertPath, "")
	if err != nil {
		return nil, fmt.Errorf("error reading tls cert: %v", err)
	}

	macaroonBytes, err := os.ReadFile(config.MacaroonPath)
	if err != nil {
		return nil, fmt.Errorf("error reading macaroon: %v", err)
	}

	mac := &macaroon.Macaroon{}
	if err := mac.UnmarshalBinary(macaroonBytes); err != nil {
		return nil, fmt.Errorf("error parsing macaroon: %v", err)
	}
	macarooncreds, err := macaroons.NewMacaroonCredential(mac)
	if err != nil {
		return nil, fmt.Errorf("error setting macaroon creds: %v", err)
	}

	conn, err := grpc.NewClient(config.GRPCHost,
		grpc.WithTransportCredentials(creds),
		grpc.WithPerRPCCredentials(macarooncreds),
	)
	if err != nil {
		return nil, fmt.Errorf("error dialing lnd: %v", err)
	}

	return &LndClient{grpcClient: lnrpc.NewLightningClient(conn), conn: conn}, nil
}

func (lnd *LndClient) ConnectionStatus() error {
	_, err := lnd.grpcClient.GetInfo(context.Background(), &lnrpc.GetInfoRequest{})
	return err
}

func (lnd *LndClient) CreateInvoice(amount uint64) (Invoice, error) {
	invoiceRequest := &lnrpc.Invoice{Value: int64(amount)}
	addInvoiceResponse, err := lnd.grpcClient.AddInvoice(context.Background(), invoiceRequest)
	if err != nil {
		return Invoice{}, err
	}

	return Invoice{
		PaymentRequest: addInvoiceResponse.PaymentRequest,
		PaymentHash:    hex.EncodeToString(addInvoiceResponse.RHash),
		Amount:         amount,
	}, nil
}

func (lnd *LndClient) InvoiceStatus(hash string) (Invoice, error) {
	lookupRequest := &lnrpc.PaymentHash{RHashStr: hash}
	invoice, err := lnd.grpcClient.LookupInvoice(context.Background(), lookupRequest)
	if err != nil {
		return Invoice{}, err
	}

	return Invoice{
		PaymentRequest: invoice.PaymentRequest,
		PaymentHash:    hash,
		Preimage:       hex.EncodeToString(invoice.RPreimage),
		Settled:        invoice.State == lnrpc.Invoice_SETTLED,
		Amount:         uint64(invoice.Value),
		Expiry:         invoice.CreationDate + invoice.Expiry,
	}, nil
}

func (lnd *LndClient) SendPayment(request string) (PaymentStatus, error) {
	sendRequest := &lnrpc.SendRequest{PaymentRequest: request}
	sendResponse, err := lnd.grpcClient.SendPaymentSync(context.Background(), sendRequest)
	if err != nil {
		return PaymentStatus{}, err
	}
	if len(sendResponse.PaymentError) > 0 {
		return PaymentStatus{}, errors.New(sendResponse.PaymentError)
	}

	return PaymentStatus{
		Preimage: hex.EncodeToString(sendResponse.PaymentPreimage),
		Paid:     true,
	}, nil
}

func (lnd *LndClient) FeeReserve(request string) (uint64, uint64, error) {
	payReq, err := lnd.grpcClient.DecodePayReq(context.Background(), &lnrpc.PayReqString{PayReq: request})
	if err != nil {
		return 0, 0, err
	}

	amount := uint64(payReq.NumSatoshis)
	return amount, feeReserve(amount), nil
}

func (lnd *LndClient) Close() error {
	return lnd.conn.Close()
}
