// Package newebpay implements the NewebPay MPG wire formats: AES-256-CBC
// trade data encryption, the SHA256 trade checksum, and order numbers.
package newebpay

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"net/url"
	"strconv"
	"strings"
	"time"

	"eldergen-backend/internal/apperrors"
)

const Version = "1.6"

type Client struct {
	merchantID string
	hashKey    []byte
	hashIV     []byte
}

// Notice is the decrypted content of a payment notification.
type Notice struct {
	Status          string
	MerchantOrderNo string
	TradeNo         string
	PaymentType     string
	Amount          int
	Raw             map[string]string
}

// PaymentData holds the form fields posted to the MPG gateway.
type PaymentData struct {
	MerchantID string
	TradeInfo  string
	TradeSha   string
	Version    string
}

func NewClient(merchantID, hashKey, hashIV string) *Client {
	return &Client{
		merchantID: merchantID,
		hashKey:    []byte(hashKey),
		hashIV:     []byte(hashIV),
	}
}

// Checksum computes SHA256(hashKey + tradeInfo + hashIV) and
// upper-cases the hex digest, per the gateway's TradeSha rule.
func (c *Client) Checksum(tradeInfo string) string {
	raw := string(c.hashKey) + tradeInfo + string(c.hashIV)
	sum := sha256.Sum256([]byte(raw))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// VerifyChecksum compares the supplied digest with a recomputed one.
// This must pass before any decrypted field is trusted.
func (c *Client) VerifyChecksum(tradeInfo, receivedSha string) bool {
	return c.Checksum(tradeInfo) == receivedSha
}

// Encrypt query-string-encodes the trade data, encrypts it with
// AES-256-CBC and returns upper-case hex.
func (c *Client) Encrypt(data map[string]string) (string, error) {
	values := url.Values{}
	for k, v := range data {
		if v != "" {
			values.Set(k, v)
		}
	}
	raw := []byte(values.Encode())

	block, err := aes.NewCipher(c.hashKey)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	padded := pkcs7Pad(raw, block.BlockSize())
	encrypted := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, c.hashIV).CryptBlocks(encrypted, padded)

	return strings.ToUpper(hex.EncodeToString(encrypted)), nil
}

// Decrypt is the inverse of Encrypt: hex decode, AES-256-CBC decrypt,
// strip padding, parse the query string into a flat map.
func (c *Client) Decrypt(tradeInfoHex string) (map[string]string, error) {
	encrypted, err := hex.DecodeString(tradeInfoHex)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex: %v", apperrors.ErrDecryptionFailed, err)
	}

	block, err := aes.NewCipher(c.hashKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrDecryptionFailed, err)
	}
	if len(encrypted) == 0 || len(encrypted)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d not a block multiple", apperrors.ErrDecryptionFailed, len(encrypted))
	}

	decrypted := make([]byte, len(encrypted))
	cipher.NewCBCDecrypter(block, c.hashIV).CryptBlocks(decrypted, encrypted)

	unpadded, err := pkcs7Unpad(decrypted, block.BlockSize())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrDecryptionFailed, err)
	}

	values, err := url.ParseQuery(string(unpadded))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrDecryptionFailed, err)
	}

	data := make(map[string]string, len(values))
	for k := range values {
		data[k] = values.Get(k)
	}
	return data, nil
}

// DecryptNotice decrypts a notify payload into a Notice.
func (c *Client) DecryptNotice(tradeInfoHex string) (*Notice, error) {
	data, err := c.Decrypt(tradeInfoHex)
	if err != nil {
		return nil, err
	}

	amount, _ := strconv.Atoi(data["Amt"])
	return &Notice{
		Status:          data["Status"],
		MerchantOrderNo: data["MerchantOrderNo"],
		TradeNo:         data["TradeNo"],
		PaymentType:     data["PaymentType"],
		Amount:          amount,
		Raw:             data,
	}, nil
}

// CreatePaymentData builds the encrypted MPG form fields for a top-up.
func (c *Client) CreatePaymentData(orderNo string, amount int, itemDesc, email string) (*PaymentData, error) {
	tradeInfo, err := c.Encrypt(map[string]string{
		"MerchantID":      c.merchantID,
		"MerchantOrderNo": orderNo,
		"Amt":             strconv.Itoa(amount),
		"ItemDesc":        itemDesc,
		"Email":           email,
		"TimeStamp":       strconv.FormatInt(time.Now().Unix(), 10),
		"Version":         Version,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt trade data: %w", err)
	}

	return &PaymentData{
		MerchantID: c.merchantID,
		TradeInfo:  tradeInfo,
		TradeSha:   c.Checksum(tradeInfo),
		Version:    Version,
	}, nil
}

// GenerateOrderNo builds EG + yymmddHH + last-4 of user id + 4 random
// digits. The generator is not collision-proof on its own; the unique
// index on orders.order_no is what enforces uniqueness.
func GenerateOrderNo(userID int64) string {
	now := time.Now()
	idStr := strconv.FormatInt(userID, 10)
	if len(idStr) > 4 {
		idStr = idStr[len(idStr)-4:]
	}
	for len(idStr) < 4 {
		idStr = "0" + idStr
	}
	return fmt.Sprintf("EG%s%s%04d", now.Format("06010215"), idStr, rand.Intn(9000)+1000)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padding)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padding)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, fmt.Errorf("invalid padding byte %d", padding)
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, fmt.Errorf("inconsistent padding")
		}
	}
	return data[:len(data)-padding], nil
}
