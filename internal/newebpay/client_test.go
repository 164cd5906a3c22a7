package newebpay_test

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eldergen-backend/internal/newebpay"
)

const (
	testHashKey = "12345678901234567890123456789012"
	testHashIV  = "1234567890123456"
)

func newTestClient() *newebpay.Client {
	return newebpay.NewClient("MS123456789", testHashKey, testHashIV)
}

func TestChecksum_Deterministic(t *testing.T) {
	client := newTestClient()

	sha1 := client.Checksum("abcdef0123456789")
	sha2 := client.Checksum("abcdef0123456789")

	assert.Equal(t, sha1, sha2)
	assert.Equal(t, strings.ToUpper(sha1), sha1)
	assert.Len(t, sha1, 64)
}

func TestChecksum_SensitiveToInput(t *testing.T) {
	client := newTestClient()

	sha1 := client.Checksum("abcdef0123456789")
	sha2 := client.Checksum("abcdef0123456780")

	assert.NotEqual(t, sha1, sha2)
}

func TestChecksum_SensitiveToKeys(t *testing.T) {
	client := newTestClient()
	other := newebpay.NewClient("MS123456789", "x2345678901234567890123456789012", testHashIV)

	assert.NotEqual(t, client.Checksum("payload"), other.Checksum("payload"))
}

func TestVerifyChecksum(t *testing.T) {
	client := newTestClient()
	tradeInfo := "ABCDEF0123"

	assert.True(t, client.VerifyChecksum(tradeInfo, client.Checksum(tradeInfo)))
	assert.False(t, client.VerifyChecksum(tradeInfo, "DEADBEEF"))
	assert.False(t, client.VerifyChecksum(tradeInfo, strings.ToLower(client.Checksum(tradeInfo))))
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	client := newTestClient()

	original := map[string]string{
		"MerchantOrderNo": "EG2409011512340042",
		"Amt":             "299",
		"Status":          "SUCCESS",
		"TradeNo":         "25090112345678",
	}

	encrypted, err := client.Encrypt(original)
	require.NoError(t, err)
	assert.Equal(t, strings.ToUpper(encrypted), encrypted)

	decrypted, err := client.Decrypt(encrypted)
	require.NoError(t, err)
	for k, v := range original {
		assert.Equal(t, v, decrypted[k])
	}
}

func TestDecrypt_RejectsGarbage(t *testing.T) {
	client := newTestClient()

	_, err := client.Decrypt("not-hex-at-all")
	assert.Error(t, err)

	_, err = client.Decrypt("ABCD")
	assert.Error(t, err)
}

// A notice decrypted with the wrong key pair must fail, never yield
// plausible-looking fields. Query parsing of the garbage plaintext or
// padding validation catches it.
func TestDecrypt_WrongKeyFails(t *testing.T) {
	client := newTestClient()
	attacker := newebpay.NewClient("MS123456789", "99999999999999999999999999999999", "9999999999999999")

	encrypted, err := client.Encrypt(map[string]string{
		"Status": "SUCCESS",
		"Amt":    "299",
	})
	require.NoError(t, err)

	data, err := attacker.Decrypt(encrypted)
	if err == nil {
		assert.NotEqual(t, "SUCCESS", data["Status"])
	}
}

func TestDecryptNotice(t *testing.T) {
	client := newTestClient()

	encrypted, err := client.Encrypt(map[string]string{
		"Status":          "SUCCESS",
		"MerchantOrderNo": "EG2409011512340042",
		"TradeNo":         "25090112345678",
		"PaymentType":     "CREDIT",
		"Amt":             "299",
	})
	require.NoError(t, err)

	notice, err := client.DecryptNotice(encrypted)
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS", notice.Status)
	assert.Equal(t, "EG2409011512340042", notice.MerchantOrderNo)
	assert.Equal(t, "25090112345678", notice.TradeNo)
	assert.Equal(t, "CREDIT", notice.PaymentType)
	assert.Equal(t, 299, notice.Amount)
}

// Tampering with TradeInfo after the checksum was computed must be
// detected before decryption is even attempted.
func TestTamperedTradeInfoFailsChecksum(t *testing.T) {
	client := newTestClient()

	encrypted, err := client.Encrypt(map[string]string{
		"Status": "SUCCESS",
		"Amt":    "299",
	})
	require.NoError(t, err)
	sha := client.Checksum(encrypted)

	tampered := []byte(encrypted)
	if tampered[0] == 'A' {
		tampered[0] = 'B'
	} else {
		tampered[0] = 'A'
	}

	assert.False(t, client.VerifyChecksum(string(tampered), sha))
}

func TestCreatePaymentData(t *testing.T) {
	client := newTestClient()

	data, err := client.CreatePaymentData("EG2409011512340042", 299, "ElderGen 300 點儲值", "user@example.com")
	require.NoError(t, err)

	assert.Equal(t, "MS123456789", data.MerchantID)
	assert.Equal(t, "1.6", data.Version)
	assert.Equal(t, client.Checksum(data.TradeInfo), data.TradeSha)

	decrypted, err := client.Decrypt(data.TradeInfo)
	require.NoError(t, err)
	assert.Equal(t, "EG2409011512340042", decrypted["MerchantOrderNo"])
	assert.Equal(t, "299", decrypted["Amt"])
	assert.Equal(t, "user@example.com", decrypted["Email"])
}

func TestGenerateOrderNo_Shape(t *testing.T) {
	pattern := regexp.MustCompile(`^EG\d{8}\d{4}\d{4}$`)

	for _, userID := range []int64{1, 42, 9999, 123456789} {
		orderNo := newebpay.GenerateOrderNo(userID)
		assert.Regexp(t, pattern, orderNo)
		assert.Len(t, orderNo, 18)
	}
}

func TestGenerateOrderNo_UserSuffix(t *testing.T) {
	orderNo := newebpay.GenerateOrderNo(42)
	assert.Equal(t, "0042", orderNo[10:14])

	orderNo = newebpay.GenerateOrderNo(123456789)
	assert.Equal(t, "6789", orderNo[10:14])
}
