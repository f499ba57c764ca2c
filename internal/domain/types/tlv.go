package types

// TLVType identifies the content of a TLV record.
type TLVType uint16

const (
	TLVTypePadding      TLVType = 0x0000
	TLVTypeDisconnected TLVType = 0x0001
	TLVTypeSMP1         TLVType = 0x0002
	TLVTypeSMP2         TLVType = 0x0003
	TLVTypeSMP3         TLVType = 0x0004
	TLVTypeSMP4         TLVType = 0x0005
	TLVTypeSMPAbort     TLVType = 0x0006
	TLVTypeSMP1Question TLVType = 0x0007
	TLVTypeSymmetricKey TLVType = 0x0008
	TLVTypeDataRequest  TLVType = 0x0100
	TLVTypeDataResponse TLVType = 0x0101
)

// MaxTLVPayload is the largest payload a TLV length field can describe.
const MaxTLVPayload = 0xFFFF

// TLV is a type-length-value record carried inside an encrypted message.
type TLV struct {
	Type    TLVType
	Payload []byte
}
