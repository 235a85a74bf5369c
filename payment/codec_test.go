package payment

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kasperience/kdapp-sub000/episode"
)

func TestCommandRoundTrip(t *testing.T) {
	guardian := episode.PubKey{1, 2, 3}
	customer := episode.PubKey{4, 5, 6}

	cases := []Command{
		{Kind: KindCreateInvoice, CreateInvoice: &CreateInvoiceCmd{InvoiceID: 1, Amount: 50, Memo: "order #1", GuardianKeys: []episode.PubKey{guardian}}},
		{Kind: KindMarkPaid, MarkPaid: &MarkPaidCmd{InvoiceID: 1, Payer: customer}},
		{Kind: KindAckReceipt, AckReceipt: &AckReceiptCmd{InvoiceID: 1}},
		{Kind: KindCancelInvoice, CancelInvoice: &CancelInvoiceCmd{InvoiceID: 2}},
		{Kind: KindCreateSubscription, CreateSubscription: &CreateSubscriptionCmd{SubscriptionID: 9, Customer: customer, Amount: 5, Interval: 86400}},
		{Kind: KindProcessSubscription, ProcessSubscription: &ProcessSubscriptionCmd{SubscriptionID: 9}},
		{Kind: KindCancelSubscription, CancelSubscription: &CancelSubscriptionCmd{SubscriptionID: 9}},
	}

	for _, c := range cases {
		encoded := EncodeCommand(c)
		decoded, err := DecodeCommand(encoded)
		require.NoError(t, err)
		require.Equal(t, c.Kind, decoded.Kind)
	}
}

func TestDecodeCommandTruncated(t *testing.T) {
	_, err := DecodeCommand(nil)
	require.ErrorIs(t, err, ErrTruncated)

	_, err = DecodeCommand([]byte{byte(KindMarkPaid), 0, 0})
	require.ErrorIs(t, err, ErrTruncated)
}
