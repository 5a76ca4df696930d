package funder

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/credmesh/credmesh/tokenchannel"
	"github.com/credmesh/credmesh/wire"
)

// Mutation encoding is canonical: a given mutation has exactly one
// serialization, because the durable log is replayed to rebuild state whose
// content feeds peer-bound hashes. The same discipline applies to full
// state snapshots, where map entries are emitted in sorted key order.

// Type bytes for the funder level mutation union.
const (
	mutFriend                    uint8 = 1
	mutAddRelay                  uint8 = 2
	mutRemoveRelay               uint8 = 3
	mutAddFriend                 uint8 = 4
	mutRemoveFriend              uint8 = 5
	mutAddInvoice                uint8 = 6
	mutAddDestPlainLock          uint8 = 7
	mutRemoveInvoice             uint8 = 8
	mutAddTransaction            uint8 = 9
	mutSetTransactionResponse    uint8 = 10
	mutRemoveTransaction         uint8 = 11
	mutAddPayment                uint8 = 12
	mutSetPaymentReceipt         uint8 = 13
	mutTakePaymentReceipt        uint8 = 14
	mutSetPaymentClosing         uint8 = 15
	mutSetPaymentNumTransactions uint8 = 16
	mutRemovePayment             uint8 = 17
)

// Type bytes for the friend level mutation union.
const (
	fmutTc                        uint8 = 1
	fmutSetWantedRemoteMaxDebt    uint8 = 2
	fmutSetWantedRequestsStatus   uint8 = 3
	fmutPushBackPendingOperation  uint8 = 4
	fmutPopFrontPendingOperation  uint8 = 5
	fmutPushBackPendingUserReq    uint8 = 6
	fmutPopFrontPendingUserReq    uint8 = 7
	fmutSetStatus                 uint8 = 8
	fmutSetFriendRelays           uint8 = 9
	fmutSetChannelInconsistent    uint8 = 10
	fmutSetRemoteResetTerms       uint8 = 11
	fmutLocalReset                uint8 = 12
	fmutRemoteReset               uint8 = 13
)

// Type bytes for the token channel mutation union.
const (
	tcmutSetDirection         uint8 = 1
	tcmutSetBalance           uint8 = 2
	tcmutSetLocalMaxDebt      uint8 = 3
	tcmutSetRemoteMaxDebt     uint8 = 4
	tcmutSetLocalPendingDebt  uint8 = 5
	tcmutSetRemotePendingDebt uint8 = 6
	tcmutSetLocalReqStatus    uint8 = 7
	tcmutSetRemoteReqStatus   uint8 = 8
	tcmutInsertLocalPending   uint8 = 9
	tcmutRemoveLocalPending   uint8 = 10
	tcmutInsertRemotePending  uint8 = 11
	tcmutRemoveRemotePending  uint8 = 12
	tcmutSetLocalRelays       uint8 = 13
	tcmutSetRemoteRelays      uint8 = 14
)

func writeMoveToken(w io.Writer, mt *wire.MoveToken) error {
	if mt == nil {
		return wire.WriteElement(w, false)
	}
	if err := wire.WriteElement(w, true); err != nil {
		return err
	}
	return mt.Encode(w, 0)
}

func readMoveToken(r io.Reader) (*wire.MoveToken, error) {
	var present bool
	if err := wire.ReadElement(r, &present); err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	mt := &wire.MoveToken{}
	if err := mt.Decode(r, 0); err != nil {
		return nil, err
	}
	return mt, nil
}

func writePendingRequest(w io.Writer, p *tokenchannel.PendingRequest) error {
	return wire.WriteElements(w,
		p.RequestID,
		p.Route,
		p.DestPayment,
		p.LeftFees,
		p.InvoiceID,
		p.SrcHashedLock,
		uint8(p.Stage),
		p.DestHashedLock,
	)
}

func readPendingRequest(r io.Reader) (*tokenchannel.PendingRequest, error) {
	p := &tokenchannel.PendingRequest{}
	var stage uint8
	err := wire.ReadElements(r,
		&p.RequestID,
		&p.Route,
		&p.DestPayment,
		&p.LeftFees,
		&p.InvoiceID,
		&p.SrcHashedLock,
		&stage,
		&p.DestHashedLock,
	)
	if err != nil {
		return nil, err
	}
	p.Stage = tokenchannel.RequestStage(stage)
	return p, nil
}

func writeResetTerms(w io.Writer, t wire.ResetTerms) error {
	return wire.WriteElements(w, t.ResetToken, t.BalanceForReset)
}

func readResetTerms(r io.Reader) (wire.ResetTerms, error) {
	var t wire.ResetTerms
	err := wire.ReadElements(r, &t.ResetToken, &t.BalanceForReset)
	return t, err
}

func encodeTcMutation(w io.Writer, mutation tokenchannel.TcMutation) error {
	switch m := mutation.(type) {
	case *tokenchannel.SetDirection:
		if err := wire.WriteElements(
			w, tcmutSetDirection, uint8(m.Direction), m.NewToken,
		); err != nil {
			return err
		}
		return writeMoveToken(w, m.MoveToken)
	case *tokenchannel.SetBalance:
		return wire.WriteElements(w, tcmutSetBalance, m.Balance)
	case *tokenchannel.SetLocalMaxDebt:
		return wire.WriteElements(w, tcmutSetLocalMaxDebt, m.Debt)
	case *tokenchannel.SetRemoteMaxDebt:
		return wire.WriteElements(w, tcmutSetRemoteMaxDebt, m.Debt)
	case *tokenchannel.SetLocalPendingDebt:
		return wire.WriteElements(w, tcmutSetLocalPendingDebt, m.Debt)
	case *tokenchannel.SetRemotePendingDebt:
		return wire.WriteElements(w, tcmutSetRemotePendingDebt, m.Debt)
	case *tokenchannel.SetLocalRequestsStatus:
		return wire.WriteElements(
			w, tcmutSetLocalReqStatus, uint8(m.Status),
		)
	case *tokenchannel.SetRemoteRequestsStatus:
		return wire.WriteElements(
			w, tcmutSetRemoteReqStatus, uint8(m.Status),
		)
	case *tokenchannel.InsertLocalPendingRequest:
		if err := wire.WriteElement(w, tcmutInsertLocalPending); err != nil {
			return err
		}
		return writePendingRequest(w, m.Request)
	case *tokenchannel.RemoveLocalPendingRequest:
		return wire.WriteElements(w, tcmutRemoveLocalPending, m.RequestID)
	case *tokenchannel.InsertRemotePendingRequest:
		if err := wire.WriteElement(w, tcmutInsertRemotePending); err != nil {
			return err
		}
		return writePendingRequest(w, m.Request)
	case *tokenchannel.RemoveRemotePendingRequest:
		return wire.WriteElements(w, tcmutRemoveRemotePending, m.RequestID)
	case *tokenchannel.SetLocalRelays:
		return wire.WriteElements(w, tcmutSetLocalRelays, m.Relays)
	case *tokenchannel.SetRemoteRelays:
		return wire.WriteElements(w, tcmutSetRemoteRelays, m.Relays)
	default:
		return fmt.Errorf("unknown channel mutation type %T", mutation)
	}
}

func decodeTcMutation(r io.Reader) (tokenchannel.TcMutation, error) {
	var mutType uint8
	if err := wire.ReadElement(r, &mutType); err != nil {
		return nil, err
	}

	switch mutType {
	case tcmutSetDirection:
		m := &tokenchannel.SetDirection{}
		var direction uint8
		if err := wire.ReadElements(
			r, &direction, &m.NewToken,
		); err != nil {
			return nil, err
		}
		m.Direction = tokenchannel.Direction(direction)
		mt, err := readMoveToken(r)
		if err != nil {
			return nil, err
		}
		m.MoveToken = mt
		return m, nil
	case tcmutSetBalance:
		m := &tokenchannel.SetBalance{}
		return m, wire.ReadElement(r, &m.Balance)
	case tcmutSetLocalMaxDebt:
		m := &tokenchannel.SetLocalMaxDebt{}
		return m, wire.ReadElement(r, &m.Debt)
	case tcmutSetRemoteMaxDebt:
		m := &tokenchannel.SetRemoteMaxDebt{}
		return m, wire.ReadElement(r, &m.Debt)
	case tcmutSetLocalPendingDebt:
		m := &tokenchannel.SetLocalPendingDebt{}
		return m, wire.ReadElement(r, &m.Debt)
	case tcmutSetRemotePendingDebt:
		m := &tokenchannel.SetRemotePendingDebt{}
		return m, wire.ReadElement(r, &m.Debt)
	case tcmutSetLocalReqStatus:
		var status uint8
		if err := wire.ReadElement(r, &status); err != nil {
			return nil, err
		}
		return &tokenchannel.SetLocalRequestsStatus{
			Status: wire.RequestsStatus(status),
		}, nil
	case tcmutSetRemoteReqStatus:
		var status uint8
		if err := wire.ReadElement(r, &status); err != nil {
			return nil, err
		}
		return &tokenchannel.SetRemoteRequestsStatus{
			Status: wire.RequestsStatus(status),
		}, nil
	case tcmutInsertLocalPending:
		request, err := readPendingRequest(r)
		if err != nil {
			return nil, err
		}
		return &tokenchannel.InsertLocalPendingRequest{
			Request: request,
		}, nil
	case tcmutRemoveLocalPending:
		m := &tokenchannel.RemoveLocalPendingRequest{}
		return m, wire.ReadElement(r, &m.RequestID)
	case tcmutInsertRemotePending:
		request, err := readPendingRequest(r)
		if err != nil {
			return nil, err
		}
		return &tokenchannel.InsertRemotePendingRequest{
			Request: request,
		}, nil
	case tcmutRemoveRemotePending:
		m := &tokenchannel.RemoveRemotePendingRequest{}
		return m, wire.ReadElement(r, &m.RequestID)
	case tcmutSetLocalRelays:
		m := &tokenchannel.SetLocalRelays{}
		return m, wire.ReadElement(r, &m.Relays)
	case tcmutSetRemoteRelays:
		m := &tokenchannel.SetRemoteRelays{}
		return m, wire.ReadElement(r, &m.Relays)
	default:
		return nil, fmt.Errorf("unknown channel mutation type [%d]",
			mutType)
	}
}

func encodeFriendMutation(w io.Writer, mutation FriendMutation) error {
	switch m := mutation.(type) {
	case *FriendTcMutation:
		if err := wire.WriteElement(w, fmutTc); err != nil {
			return err
		}
		return encodeTcMutation(w, m.Mutation)
	case *SetWantedRemoteMaxDebt:
		return wire.WriteElements(w, fmutSetWantedRemoteMaxDebt, m.Debt)
	case *SetWantedLocalRequestsStatus:
		return wire.WriteElements(
			w, fmutSetWantedRequestsStatus, uint8(m.Status),
		)
	case *PushBackPendingOperation:
		if err := wire.WriteElement(
			w, fmutPushBackPendingOperation,
		); err != nil {
			return err
		}
		return wire.WriteOperation(w, m.Op)
	case *PopFrontPendingOperation:
		return wire.WriteElement(w, fmutPopFrontPendingOperation)
	case *PushBackPendingUserRequest:
		if err := wire.WriteElement(
			w, fmutPushBackPendingUserReq,
		); err != nil {
			return err
		}
		request := m.Request
		return wire.WriteOperation(w, &request)
	case *PopFrontPendingUserRequest:
		return wire.WriteElement(w, fmutPopFrontPendingUserReq)
	case *SetStatus:
		return wire.WriteElements(w, fmutSetStatus, uint8(m.Status))
	case *SetFriendRelays:
		return wire.WriteElements(w, fmutSetFriendRelays, m.Relays)
	case *SetChannelInconsistent:
		if err := wire.WriteElement(
			w, fmutSetChannelInconsistent,
		); err != nil {
			return err
		}
		return writeResetTerms(w, m.LocalResetTerms)
	case *SetRemoteResetTerms:
		if err := wire.WriteElement(w, fmutSetRemoteResetTerms); err != nil {
			return err
		}
		return writeResetTerms(w, m.Terms)
	case *LocalReset:
		if err := wire.WriteElement(w, fmutLocalReset); err != nil {
			return err
		}
		return writeMoveToken(w, m.MoveToken)
	case *RemoteReset:
		if err := wire.WriteElement(w, fmutRemoteReset); err != nil {
			return err
		}
		return writeMoveToken(w, m.MoveToken)
	default:
		return fmt.Errorf("unknown friend mutation type %T", mutation)
	}
}

func decodeFriendMutation(r io.Reader) (FriendMutation, error) {
	var mutType uint8
	if err := wire.ReadElement(r, &mutType); err != nil {
		return nil, err
	}

	switch mutType {
	case fmutTc:
		tcMutation, err := decodeTcMutation(r)
		if err != nil {
			return nil, err
		}
		return &FriendTcMutation{Mutation: tcMutation}, nil
	case fmutSetWantedRemoteMaxDebt:
		m := &SetWantedRemoteMaxDebt{}
		return m, wire.ReadElement(r, &m.Debt)
	case fmutSetWantedRequestsStatus:
		var status uint8
		if err := wire.ReadElement(r, &status); err != nil {
			return nil, err
		}
		return &SetWantedLocalRequestsStatus{
			Status: wire.RequestsStatus(status),
		}, nil
	case fmutPushBackPendingOperation:
		op, err := wire.ReadOperation(r)
		if err != nil {
			return nil, err
		}
		return &PushBackPendingOperation{Op: op}, nil
	case fmutPopFrontPendingOperation:
		return &PopFrontPendingOperation{}, nil
	case fmutPushBackPendingUserReq:
		op, err := wire.ReadOperation(r)
		if err != nil {
			return nil, err
		}
		request, ok := op.(*wire.RequestSendFunds)
		if !ok {
			return nil, fmt.Errorf("user request queue holds %T",
				op)
		}
		return &PushBackPendingUserRequest{Request: *request}, nil
	case fmutPopFrontPendingUserReq:
		return &PopFrontPendingUserRequest{}, nil
	case fmutSetStatus:
		var status uint8
		if err := wire.ReadElement(r, &status); err != nil {
			return nil, err
		}
		return &SetStatus{Status: FriendStatus(status)}, nil
	case fmutSetFriendRelays:
		m := &SetFriendRelays{}
		return m, wire.ReadElement(r, &m.Relays)
	case fmutSetChannelInconsistent:
		terms, err := readResetTerms(r)
		if err != nil {
			return nil, err
		}
		return &SetChannelInconsistent{LocalResetTerms: terms}, nil
	case fmutSetRemoteResetTerms:
		terms, err := readResetTerms(r)
		if err != nil {
			return nil, err
		}
		return &SetRemoteResetTerms{Terms: terms}, nil
	case fmutLocalReset:
		mt, err := readMoveToken(r)
		if err != nil {
			return nil, err
		}
		return &LocalReset{MoveToken: mt}, nil
	case fmutRemoteReset:
		mt, err := readMoveToken(r)
		if err != nil {
			return nil, err
		}
		return &RemoteReset{MoveToken: mt}, nil
	default:
		return nil, fmt.Errorf("unknown friend mutation type [%d]",
			mutType)
	}
}

// EncodeFunderMutation serializes a funder mutation canonically.
func EncodeFunderMutation(w io.Writer, mutation FunderMutation) error {
	switch m := mutation.(type) {
	case *FriendFunderMutation:
		if err := wire.WriteElements(
			w, mutFriend, m.PublicKey,
		); err != nil {
			return err
		}
		return encodeFriendMutation(w, m.Mutation)
	case *AddRelay:
		return wire.WriteElements(w, mutAddRelay, m.Relay)
	case *RemoveRelay:
		return wire.WriteElements(w, mutRemoveRelay, m.PublicKey)
	case *AddFriend:
		return wire.WriteElements(
			w, mutAddFriend, m.PublicKey, m.Relays, m.Name,
			m.Balance,
		)
	case *RemoveFriend:
		return wire.WriteElements(w, mutRemoveFriend, m.PublicKey)
	case *AddInvoice:
		return wire.WriteElements(
			w, mutAddInvoice, m.InvoiceID, m.TotalDestPayment,
		)
	case *AddDestPlainLock:
		return wire.WriteElements(
			w, mutAddDestPlainLock, m.InvoiceID, m.RequestID,
			m.PlainLock,
		)
	case *RemoveInvoice:
		return wire.WriteElements(w, mutRemoveInvoice, m.InvoiceID)
	case *AddTransaction:
		return wire.WriteElements(
			w, mutAddTransaction, m.TransactionID, m.PaymentID,
			m.SrcPlainLock,
		)
	case *SetTransactionResponse:
		return wire.WriteElements(
			w, mutSetTransactionResponse, m.TransactionID,
			m.DestHashedLock, m.Signature,
		)
	case *RemoveTransaction:
		return wire.WriteElements(
			w, mutRemoveTransaction, m.TransactionID,
		)
	case *AddPayment:
		return wire.WriteElements(
			w, mutAddPayment, m.PaymentID, m.InvoiceID,
			m.TotalDestPayment, m.DestPublicKey,
		)
	case *SetPaymentReceipt:
		if err := wire.WriteElements(
			w, mutSetPaymentReceipt, m.PaymentID,
		); err != nil {
			return err
		}
		receipt := m.Receipt
		return receipt.Encode(w)
	case *TakePaymentReceipt:
		return wire.WriteElements(w, mutTakePaymentReceipt, m.PaymentID)
	case *SetPaymentClosing:
		return wire.WriteElements(
			w, mutSetPaymentClosing, m.PaymentID, m.AckUid,
		)
	case *SetPaymentNumTransactions:
		return wire.WriteElements(
			w, mutSetPaymentNumTransactions, m.PaymentID,
			m.NumTransactions,
		)
	case *RemovePayment:
		return wire.WriteElements(w, mutRemovePayment, m.PaymentID)
	default:
		return fmt.Errorf("unknown funder mutation type %T", mutation)
	}
}

// DecodeFunderMutation deserializes one funder mutation.
func DecodeFunderMutation(r io.Reader) (FunderMutation, error) {
	var mutType uint8
	if err := wire.ReadElement(r, &mutType); err != nil {
		return nil, err
	}

	switch mutType {
	case mutFriend:
		m := &FriendFunderMutation{}
		if err := wire.ReadElement(r, &m.PublicKey); err != nil {
			return nil, err
		}
		friendMutation, err := decodeFriendMutation(r)
		if err != nil {
			return nil, err
		}
		m.Mutation = friendMutation
		return m, nil
	case mutAddRelay:
		m := &AddRelay{}
		return m, wire.ReadElement(r, &m.Relay)
	case mutRemoveRelay:
		m := &RemoveRelay{}
		return m, wire.ReadElement(r, &m.PublicKey)
	case mutAddFriend:
		m := &AddFriend{}
		return m, wire.ReadElements(
			r, &m.PublicKey, &m.Relays, &m.Name, &m.Balance,
		)
	case mutRemoveFriend:
		m := &RemoveFriend{}
		return m, wire.ReadElement(r, &m.PublicKey)
	case mutAddInvoice:
		m := &AddInvoice{}
		return m, wire.ReadElements(
			r, &m.InvoiceID, &m.TotalDestPayment,
		)
	case mutAddDestPlainLock:
		m := &AddDestPlainLock{}
		return m, wire.ReadElements(
			r, &m.InvoiceID, &m.RequestID, &m.PlainLock,
		)
	case mutRemoveInvoice:
		m := &RemoveInvoice{}
		return m, wire.ReadElement(r, &m.InvoiceID)
	case mutAddTransaction:
		m := &AddTransaction{}
		return m, wire.ReadElements(
			r, &m.TransactionID, &m.PaymentID, &m.SrcPlainLock,
		)
	case mutSetTransactionResponse:
		m := &SetTransactionResponse{}
		return m, wire.ReadElements(
			r, &m.TransactionID, &m.DestHashedLock, &m.Signature,
		)
	case mutRemoveTransaction:
		m := &RemoveTransaction{}
		return m, wire.ReadElement(r, &m.TransactionID)
	case mutAddPayment:
		m := &AddPayment{}
		return m, wire.ReadElements(
			r, &m.PaymentID, &m.InvoiceID, &m.TotalDestPayment,
			&m.DestPublicKey,
		)
	case mutSetPaymentReceipt:
		m := &SetPaymentReceipt{}
		if err := wire.ReadElement(r, &m.PaymentID); err != nil {
			return nil, err
		}
		return m, m.Receipt.Decode(r)
	case mutTakePaymentReceipt:
		m := &TakePaymentReceipt{}
		return m, wire.ReadElement(r, &m.PaymentID)
	case mutSetPaymentClosing:
		m := &SetPaymentClosing{}
		return m, wire.ReadElements(r, &m.PaymentID, &m.AckUid)
	case mutSetPaymentNumTransactions:
		m := &SetPaymentNumTransactions{}
		return m, wire.ReadElements(
			r, &m.PaymentID, &m.NumTransactions,
		)
	case mutRemovePayment:
		m := &RemovePayment{}
		return m, wire.ReadElement(r, &m.PaymentID)
	default:
		return nil, fmt.Errorf("unknown funder mutation type [%d]",
			mutType)
	}
}

func sortedUids(m map[wire.Uid]*tokenchannel.PendingRequest) []wire.Uid {
	uids := make([]wire.Uid, 0, len(m))
	for uid := range m {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool {
		return bytes.Compare(uids[i][:], uids[j][:]) < 0
	})
	return uids
}

func writeTokenChannel(w io.Writer, tc *tokenchannel.TokenChannel) error {
	err := wire.WriteElements(w,
		tc.LocalPublicKey,
		tc.RemotePublicKey,
		uint8(tc.Direction),
		tc.Balance,
		tc.LocalMaxDebt,
		tc.RemoteMaxDebt,
		tc.LocalPendingDebt,
		tc.RemotePendingDebt,
		uint8(tc.LocalRequestsStatus),
		uint8(tc.RemoteRequestsStatus),
		tc.LastToken,
	)
	if err != nil {
		return err
	}
	if err := writeMoveToken(w, tc.LastMoveToken); err != nil {
		return err
	}

	for _, pending := range []map[wire.Uid]*tokenchannel.PendingRequest{
		tc.PendingLocalRequests, tc.PendingRemoteRequests,
	} {
		if err := wire.WriteElement(
			w, uint16(len(pending)),
		); err != nil {
			return err
		}
		for _, uid := range sortedUids(pending) {
			if err := writePendingRequest(w, pending[uid]); err != nil {
				return err
			}
		}
	}

	return wire.WriteElements(w, tc.LocalRelays, tc.RemoteRelays)
}

func readTokenChannel(r io.Reader) (*tokenchannel.TokenChannel, error) {
	tc := &tokenchannel.TokenChannel{
		PendingLocalRequests: make(
			map[wire.Uid]*tokenchannel.PendingRequest,
		),
		PendingRemoteRequests: make(
			map[wire.Uid]*tokenchannel.PendingRequest,
		),
	}

	var direction, localStatus, remoteStatus uint8
	err := wire.ReadElements(r,
		&tc.LocalPublicKey,
		&tc.RemotePublicKey,
		&direction,
		&tc.Balance,
		&tc.LocalMaxDebt,
		&tc.RemoteMaxDebt,
		&tc.LocalPendingDebt,
		&tc.RemotePendingDebt,
		&localStatus,
		&remoteStatus,
		&tc.LastToken,
	)
	if err != nil {
		return nil, err
	}
	tc.Direction = tokenchannel.Direction(direction)
	tc.LocalRequestsStatus = wire.RequestsStatus(localStatus)
	tc.RemoteRequestsStatus = wire.RequestsStatus(remoteStatus)

	tc.LastMoveToken, err = readMoveToken(r)
	if err != nil {
		return nil, err
	}

	for _, pending := range []map[wire.Uid]*tokenchannel.PendingRequest{
		tc.PendingLocalRequests, tc.PendingRemoteRequests,
	} {
		var numRequests uint16
		if err := wire.ReadElement(r, &numRequests); err != nil {
			return nil, err
		}
		for i := uint16(0); i < numRequests; i++ {
			request, err := readPendingRequest(r)
			if err != nil {
				return nil, err
			}
			pending[request.RequestID] = request
		}
	}

	err = wire.ReadElements(r, &tc.LocalRelays, &tc.RemoteRelays)
	if err != nil {
		return nil, err
	}
	return tc, nil
}

func writeFriendState(w io.Writer, f *FriendState) error {
	err := wire.WriteElements(w,
		f.LocalPublicKey,
		f.RemotePublicKey,
		f.Relays,
		f.Name,
		f.WantedRemoteMaxDebt,
		uint8(f.WantedLocalRequestsStatus),
		uint8(f.Status),
	)
	if err != nil {
		return err
	}

	switch status := f.ChannelStatus.(type) {
	case *ChannelConsistent:
		if err := wire.WriteElement(w, uint8(0)); err != nil {
			return err
		}
		if err := writeTokenChannel(w, status.Channel); err != nil {
			return err
		}
	case *ChannelInconsistent:
		if err := wire.WriteElement(w, uint8(1)); err != nil {
			return err
		}
		if err := writeResetTerms(w, status.LocalResetTerms); err != nil {
			return err
		}
		hasRemote := status.RemoteResetTerms != nil
		if err := wire.WriteElement(w, hasRemote); err != nil {
			return err
		}
		if hasRemote {
			err := writeResetTerms(w, *status.RemoteResetTerms)
			if err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown channel status type %T",
			f.ChannelStatus)
	}

	if err := wire.WriteOperations(w, f.PendingOperations); err != nil {
		return err
	}
	if err := wire.WriteElement(
		w, uint16(len(f.PendingUserRequests)),
	); err != nil {
		return err
	}
	for i := range f.PendingUserRequests {
		err := wire.WriteOperation(w, &f.PendingUserRequests[i])
		if err != nil {
			return err
		}
	}
	return nil
}

func readFriendState(r io.Reader) (*FriendState, error) {
	f := &FriendState{}
	var wantedStatus, status uint8
	err := wire.ReadElements(r,
		&f.LocalPublicKey,
		&f.RemotePublicKey,
		&f.Relays,
		&f.Name,
		&f.WantedRemoteMaxDebt,
		&wantedStatus,
		&status,
	)
	if err != nil {
		return nil, err
	}
	f.WantedLocalRequestsStatus = wire.RequestsStatus(wantedStatus)
	f.Status = FriendStatus(status)

	var channelStatus uint8
	if err := wire.ReadElement(r, &channelStatus); err != nil {
		return nil, err
	}
	switch channelStatus {
	case 0:
		channel, err := readTokenChannel(r)
		if err != nil {
			return nil, err
		}
		f.ChannelStatus = &ChannelConsistent{Channel: channel}
	case 1:
		localTerms, err := readResetTerms(r)
		if err != nil {
			return nil, err
		}
		inconsistent := &ChannelInconsistent{
			LocalResetTerms: localTerms,
		}
		var hasRemote bool
		if err := wire.ReadElement(r, &hasRemote); err != nil {
			return nil, err
		}
		if hasRemote {
			remoteTerms, err := readResetTerms(r)
			if err != nil {
				return nil, err
			}
			inconsistent.RemoteResetTerms = &remoteTerms
		}
		f.ChannelStatus = inconsistent
	default:
		return nil, fmt.Errorf("unknown channel status [%d]",
			channelStatus)
	}

	f.PendingOperations, err = wire.ReadOperations(r)
	if err != nil {
		return nil, err
	}
	var numRequests uint16
	if err := wire.ReadElement(r, &numRequests); err != nil {
		return nil, err
	}
	for i := uint16(0); i < numRequests; i++ {
		op, err := wire.ReadOperation(r)
		if err != nil {
			return nil, err
		}
		request, ok := op.(*wire.RequestSendFunds)
		if !ok {
			return nil, fmt.Errorf("user request queue holds %T",
				op)
		}
		f.PendingUserRequests = append(
			f.PendingUserRequests, *request,
		)
	}
	return f, nil
}

// EncodeFunderState serializes a full state snapshot canonically: all map
// entries are written in sorted key order.
func EncodeFunderState(w io.Writer, s *FunderState) error {
	err := wire.WriteElements(w, s.LocalPublicKey, s.Relays)
	if err != nil {
		return err
	}

	friendKeys := make([]wire.PublicKey, 0, len(s.Friends))
	for pk := range s.Friends {
		friendKeys = append(friendKeys, pk)
	}
	sort.Slice(friendKeys, func(i, j int) bool {
		return bytes.Compare(friendKeys[i][:], friendKeys[j][:]) < 0
	})
	if err := wire.WriteElement(w, uint16(len(friendKeys))); err != nil {
		return err
	}
	for _, pk := range friendKeys {
		if err := writeFriendState(w, s.Friends[pk]); err != nil {
			return err
		}
	}

	invoiceIDs := make([]wire.InvoiceID, 0, len(s.OpenInvoices))
	for invoiceID := range s.OpenInvoices {
		invoiceIDs = append(invoiceIDs, invoiceID)
	}
	sort.Slice(invoiceIDs, func(i, j int) bool {
		return bytes.Compare(invoiceIDs[i][:], invoiceIDs[j][:]) < 0
	})
	if err := wire.WriteElement(w, uint16(len(invoiceIDs))); err != nil {
		return err
	}
	for _, invoiceID := range invoiceIDs {
		invoice := s.OpenInvoices[invoiceID]
		err := wire.WriteElements(
			w, invoiceID, invoice.TotalDestPayment,
		)
		if err != nil {
			return err
		}

		lockIDs := make([]wire.Uid, 0, len(invoice.DestPlainLocks))
		for uid := range invoice.DestPlainLocks {
			lockIDs = append(lockIDs, uid)
		}
		sort.Slice(lockIDs, func(i, j int) bool {
			return bytes.Compare(lockIDs[i][:], lockIDs[j][:]) < 0
		})
		if err := wire.WriteElement(
			w, uint16(len(lockIDs)),
		); err != nil {
			return err
		}
		for _, uid := range lockIDs {
			err := wire.WriteElements(
				w, uid, invoice.DestPlainLocks[uid],
			)
			if err != nil {
				return err
			}
		}
	}

	transactionIDs := make([]wire.Uid, 0, len(s.OpenTransactions))
	for uid := range s.OpenTransactions {
		transactionIDs = append(transactionIDs, uid)
	}
	sort.Slice(transactionIDs, func(i, j int) bool {
		return bytes.Compare(
			transactionIDs[i][:], transactionIDs[j][:],
		) < 0
	})
	if err := wire.WriteElement(
		w, uint16(len(transactionIDs)),
	); err != nil {
		return err
	}
	for _, uid := range transactionIDs {
		transaction := s.OpenTransactions[uid]
		err := wire.WriteElements(w,
			uid,
			transaction.PaymentID,
			transaction.SrcPlainLock,
			transaction.DestHashedLock,
			transaction.ResponseSignature,
			transaction.Responded,
		)
		if err != nil {
			return err
		}
	}

	paymentIDs := make([]wire.PaymentID, 0, len(s.Payments))
	for paymentID := range s.Payments {
		paymentIDs = append(paymentIDs, paymentID)
	}
	sort.Slice(paymentIDs, func(i, j int) bool {
		return bytes.Compare(paymentIDs[i][:], paymentIDs[j][:]) < 0
	})
	if err := wire.WriteElement(w, uint16(len(paymentIDs))); err != nil {
		return err
	}
	for _, paymentID := range paymentIDs {
		payment := s.Payments[paymentID]
		err := wire.WriteElements(w,
			paymentID,
			payment.Open,
			payment.InvoiceID,
			payment.TotalDestPayment,
			payment.DestPublicKey,
			payment.NumTransactions,
			uint8(payment.ReceiptStatus),
		)
		if err != nil {
			return err
		}

		hasReceipt := payment.Receipt != nil
		if err := wire.WriteElement(w, hasReceipt); err != nil {
			return err
		}
		if hasReceipt {
			if err := payment.Receipt.Encode(w); err != nil {
				return err
			}
		}
		hasAck := payment.AckUid != nil
		if err := wire.WriteElement(w, hasAck); err != nil {
			return err
		}
		if hasAck {
			if err := wire.WriteElement(
				w, *payment.AckUid,
			); err != nil {
				return err
			}
		}
	}

	return nil
}

// DecodeFunderState deserializes a full state snapshot.
func DecodeFunderState(r io.Reader) (*FunderState, error) {
	s := &FunderState{
		Friends:          make(map[wire.PublicKey]*FriendState),
		OpenInvoices:     make(map[wire.InvoiceID]*OpenInvoice),
		OpenTransactions: make(map[wire.Uid]*OpenTransaction),
		Payments:         make(map[wire.PaymentID]*Payment),
	}
	err := wire.ReadElements(r, &s.LocalPublicKey, &s.Relays)
	if err != nil {
		return nil, err
	}

	var numFriends uint16
	if err := wire.ReadElement(r, &numFriends); err != nil {
		return nil, err
	}
	for i := uint16(0); i < numFriends; i++ {
		friend, err := readFriendState(r)
		if err != nil {
			return nil, err
		}
		s.Friends[friend.RemotePublicKey] = friend
	}

	var numInvoices uint16
	if err := wire.ReadElement(r, &numInvoices); err != nil {
		return nil, err
	}
	for i := uint16(0); i < numInvoices; i++ {
		var invoiceID wire.InvoiceID
		invoice := &OpenInvoice{
			DestPlainLocks: make(map[wire.Uid]wire.PlainLock),
		}
		err := wire.ReadElements(
			r, &invoiceID, &invoice.TotalDestPayment,
		)
		if err != nil {
			return nil, err
		}
		var numLocks uint16
		if err := wire.ReadElement(r, &numLocks); err != nil {
			return nil, err
		}
		for j := uint16(0); j < numLocks; j++ {
			var (
				uid  wire.Uid
				lock wire.PlainLock
			)
			if err := wire.ReadElements(r, &uid, &lock); err != nil {
				return nil, err
			}
			invoice.DestPlainLocks[uid] = lock
		}
		s.OpenInvoices[invoiceID] = invoice
	}

	var numTransactions uint16
	if err := wire.ReadElement(r, &numTransactions); err != nil {
		return nil, err
	}
	for i := uint16(0); i < numTransactions; i++ {
		var uid wire.Uid
		transaction := &OpenTransaction{}
		err := wire.ReadElements(r,
			&uid,
			&transaction.PaymentID,
			&transaction.SrcPlainLock,
			&transaction.DestHashedLock,
			&transaction.ResponseSignature,
			&transaction.Responded,
		)
		if err != nil {
			return nil, err
		}
		s.OpenTransactions[uid] = transaction
	}

	var numPayments uint16
	if err := wire.ReadElement(r, &numPayments); err != nil {
		return nil, err
	}
	for i := uint16(0); i < numPayments; i++ {
		var (
			paymentID     wire.PaymentID
			receiptStatus uint8
		)
		payment := &Payment{}
		err := wire.ReadElements(r,
			&paymentID,
			&payment.Open,
			&payment.InvoiceID,
			&payment.TotalDestPayment,
			&payment.DestPublicKey,
			&payment.NumTransactions,
			&receiptStatus,
		)
		if err != nil {
			return nil, err
		}
		payment.ReceiptStatus = ReceiptStatus(receiptStatus)

		var hasReceipt bool
		if err := wire.ReadElement(r, &hasReceipt); err != nil {
			return nil, err
		}
		if hasReceipt {
			receipt := &wire.Receipt{}
			if err := receipt.Decode(r); err != nil {
				return nil, err
			}
			payment.Receipt = receipt
		}
		var hasAck bool
		if err := wire.ReadElement(r, &hasAck); err != nil {
			return nil, err
		}
		if hasAck {
			var ackUid wire.Uid
			if err := wire.ReadElement(r, &ackUid); err != nil {
				return nil, err
			}
			payment.AckUid = &ackUid
		}
		s.Payments[paymentID] = payment
	}

	return s, nil
}
