// Version detection for Dart AOT snapshot format variations.
package snapshot

// TagStyle identifies how cluster tags are encoded in the snapshot.
type TagStyle int

const (
	// TagStyleCidShift1 is the v2.14+ / early v3.x format:
	//   Write<uint64_t>((cid << 1) | canonical)
	// Used in Dart 2.14.0 through 3.2.5.
	TagStyleCidShift1 TagStyle = iota

	// TagStyleObjectHeader is the v3.4.3+ format:
	//   Write<uint32_t>(ClassIdTag::encode(cid) | CanonicalBit | ImmutableBit)
	// CID at bits 12-31, canonical at bit 1, immutable at bit 6.
	TagStyleObjectHeader

	// TagStyleCidInt32 is the v2.10-2.13 format:
	//   Write<int32_t>(cid)
	// Raw 32-bit CID, no canonical bit (canonical is passed separately or
	// determined by which cluster loop we're in).
	TagStyleCidInt32
)

// VersionProfile holds format parameters that differ across Dart SDK versions.
type VersionProfile struct {
	DartVersion           string   // e.g. "2.17.6", "3.10.7", "" if unknown
	Supported             bool     // true if full parsing is available (CID table + format flags)
	HeaderFields          int      // clustered snapshot header field count (5 or 6)
	Tags                  TagStyle // how cluster tags are encoded
	CIDs                  *CIDTable
	CompressedPointers    bool // true if snapshot uses compressed pointers (from features string)
	FillRefUnsigned       bool // ≤2.17: ReadRef() = ReadUnsigned(); Function has packed_fields
	PreV32Format          bool // ≤3.1: PatchClass has 3 refs; ObjectPool uses v2 type bits
	HasTypeParamClassId   bool // ≤3.0: TypeParameter has parameterized_class_id scalar
	TypeParamByteScalars  bool // ≤2.19: TypeParameter base_/index_ are Write<uint8_t> not Write<uint16_t>
	OldTypeScalars        bool // ≤2.18: Type fill has type_class_id_(unsigned)+combined(uint8) instead of flags(unsigned)
	TopLevelCid16         bool // ≤2.18: kTopLevelCidOffset = 1<<16 (vs 1<<20 in ≥2.19)
	OldPoolFormat         bool // ≤3.2: ObjectPool uses 7-bit TypeBits (no SnapshotBehavior)
	PoolTypeSwapped       bool // ≥3.2: ObjectPool kImmediate=0,kTaggedObject=1 (was swapped in 3.2.0)
	OldStringFormat       bool // ≤2.14: separate OneByteString/TwoByteString clusters with plain length (no <<1|flag)
	OldTypeArgsFill       bool // 2.15: TypeArguments fill = inst+N*type+hash (no length/nullability in stream)
	OldArrayFill          bool // 2.15: Array fill = type_args+N*ref (no length in stream, N from alloc)
	SplitCanonical        bool // 2.12-2.13: header has separate num_canonical_clusters + num_clusters
	PreCanonicalSplit     bool // ≤2.10: no canonical/non-canonical distinction at all (single cluster loop, no canonical bit)
	ClassNumRefs          int  // Class pointer field count override. 0 = default (13). v2.10=16, v2.13=15.
	ClassHasTokenPos      bool // Class fill includes ReadTokenPosition(token_pos) + ReadTokenPosition(end_token_pos)
	FuncNumRefs           int  // Function pointer field count override. 0 = default (4). v2.10=7, v2.13=5.
	TypeNumRefs           int  // Type fill ref count override. 0 = default (3). v2.13=4.
	TypeClassIdIsRef      bool // Type: type_class_id is a pointer in ReadFromTo, not scalar. v2.13-v2.15.
	FuncTypeNumRefs       int  // FunctionType fill ref count override. 0 = default (6). v2.13=6 (different scalars).
	FuncTypeOldScalars    bool // FunctionType v2.13: 2 scalars (uint8+uint32) not 3.
	TypeParamNumRefs      int  // TypeParameter fill ref count override. 0 = default (3). v2.13=5, v2.14/v2.15=2.
	TypeParamWideScalars  bool // TypeParameter v2.13: base/index use Read<uint16_t> not Read<uint8_t>.
	TypeRefNumRefs        int  // TypeRef fill ref count override. 0 = default (2). v2.14/v2.15=1.
	CodeNumRefs           int  // Code fill ref count override. 0 = default (6). v2.10-v2.15=7 (includes compressed_stackmaps).
	CodeTextOffsetDelta   bool // Code ReadInstructions reads extra ReadUnsigned (text_offset_delta). v2.10-v2.15.
	CodeStateBitsAfterRef int  // Code state_bits_ position in fill: 0=not in fill (v2.14+), N=read after first N refs. v2.13=1 (1 ref → state_bits → 6 refs).
	CodeStateBitsAtEnd    bool // Code state_bits_ Read<int32_t> after ALL refs (no discarded check). v2.10.
	ClosureDataNumRefs    int  // ClosureData ref count override. 0 = default (2). v2.13=3 (includes default_type_arguments).
	TypeHasTokenPos       bool // Type/TypeParameter fill has ReadTokenPosition scalar. v2.10 only.
	ScriptHasLineCol      bool // Script fill has line_offset + col_offset scalars before kernel_script_index. v2.10, v2.13.
	ScriptHasFlags        bool // Script fill has flags (uint8) scalar between col_offset and kernel_script_index. v2.10 only.
}

// CIDTable maps predefined type names to class IDs for a specific Dart version.
// Only types with non-trivial alloc behavior need entries.
type CIDTable struct {
	String                     int
	OneByteString              int
	TwoByteString              int
	Mint                       int
	Double                     int
	Float32x4                  int
	Int32x4                    int
	Float64x2                  int
	Array                      int
	ImmutableArray             int
	WeakArray                  int
	TypeArguments              int
	Type                       int
	FunctionType               int
	RecordType                 int // 0 if not present (v2.17.6)
	TypeParameter              int
	Class                      int
	Function                   int
	ClosureData                int
	SignatureData              int // 0 if not present (v2.10 only, removed in v2.13)
	Field                      int
	Script                     int
	Library                    int
	Namespace                  int
	KernelProgramInfo          int
	Code                       int
	ObjectPool                 int
	PcDescriptors              int
	CodeSourceMap              int
	CompressedStackMaps        int
	ExceptionHandlers          int
	Context                    int
	ContextScope               int
	UnlinkedCall               int
	ICData                     int
	MegamorphicCache           int
	SubtypeTestCache           int
	LoadingUnit                int
	Closure                    int
	GrowableObjectArray        int
	Map                        int
	ConstMap                   int
	Set                        int
	ConstSet                   int
	WeakProperty               int
	WeakReference              int
	RegExp                     int
	Record                     int // 0 if not present (v2.17.6)
	TypedData                  int
	TypedDataView              int
	ExternalTypedData          int
	Instance                   int
	Sentinel                   int
	SingleTargetCache          int
	MonomorphicSmiableCall     int
	CallSiteData               int
	WeakSerializationReference int
	LanguageError              int
	UnhandledException         int
	PatchClass                 int
	FfiTrampolineData          int
	TypeParameters             int
	LibraryPrefix              int
	SendPort                   int
	StackTrace                 int
	SuspendState               int // 0 if not present (v2.17.6)
	TypeRef                    int // 0 if not present (removed in v3.x)
	Capability                 int
	ReceivePort                int
	FutureOr                   int
	TransferableTypedData      int
	UserTag                    int

	// TypedData internal CID range. CIDs from TypedDataInt8ArrayCid to
	// ByteDataViewCid-1 are internal typed data classes (stride = TypedDataCidStride).
	// IsTypedDataClassId(cid) = cid >= TypedDataInt8ArrayCid &&
	//   cid < ByteDataViewCid && (cid - TypedDataInt8ArrayCid) % TypedDataCidStride == 0
	TypedDataInt8ArrayCid int // first internal TypedData CID
	ByteDataViewCid       int // end marker (exclusive)
	TypedDataCidStride    int // 3 for v2.17.6, 4 for v3.x

	// DeltaEncodedTypedData pseudo-CID (kNativePointer = 1 in all versions).
	NativePointerCid int

	// NumPredefinedCids is the count of VM-internal class IDs. CIDs >= this
	// value are app-defined Instance subclasses. CIDs < this that aren't
	// explicitly handled should default to AllocSimple, NOT AllocInstance.
	NumPredefinedCids int
}

// Known snapshot hashes mapped to Dart SDK versions.
// Sources: blutter precompiled SDKs + reFlutter enginehash.csv.
var knownHashes = map[string]string{
	// Dart 2.17.x (Flutter 2.17.0 stable + betas)
	"1441d6b13b8623fa7fbf61433abebd31": "2.17.6", // Flutter 2.17.0.stable
	"a0cb0c928b23bc17a26e062b351dc44d": "2.17.6", // Flutter 2.17.0-182.2.beta
	"ded6ef11c73fdc638d6ff6d3ad22a67b": "2.17.6", // Flutter 2.17.0-69.2.beta
	// Dart 3.0.x (Flutter 3.10.x)
	"90b56a561f70cd55e972cb49b79b3d8b": "3.0.5", // Flutter 3.10.4
	"aa64af18e7d086041ac127cc4bc50c5e": "3.0.5", // Flutter 3.10.0 (approximate)
	// Dart 3.1.x (Flutter 3.13.x)
	"7dbbeeb8ef7b91338640dca3927636de": "3.1.0", // Flutter 3.13.9
	// Dart 3.2.x (Flutter 3.16.x)
	"f71c76320d35b65f1164dbaa6d95fe09": "3.2.5", // Flutter 3.16.0
	// Dart 3.3.x (Flutter 3.19.x)
	"ee1eb666c76a5cb7746faf39d0b97547": "3.3.0", // Flutter 3.19.0
	// Dart 3.4.x (Flutter 3.22.x)
	"d20a1be77c3d3c41b2a5accaee1ce549": "3.4.3", // Flutter 3.22.0
	// Dart 3.5.x (Flutter 3.24.x)
	"80a49c7111088100a233b2ae788e1f48": "3.5.0", // Flutter 3.24.0
	"cda356e9bae476c70de33809fd92e009": "3.5.0", // Dart 3.5.1 (from blutter SDK v3.5.1/runtime/vm/version.cc)
	"2858c2c0920495f00b9bce9edf6a8cd9": "3.6.2", // CIDs match v3.6.2 (Mint=61, String=93), likely Dart 3.6.0-dev or 3.5.x+1
	// Dart 3.6.x (Flutter 3.27.x)
	"f956f595844a2f845a55707faaaa51e4": "3.6.2", // Flutter 3.27.1
	// Dart 3.7.x (Flutter 3.29.x)
	"d91c0e6f35f0eb2e44124e8f42aa44a7": "3.7.0", // Flutter 3.29.3
	// Dart 3.8.x (Flutter 3.32.x)
	"830f4f59e7969c70b595182826435c19": "3.8.1", // Flutter 3.32.0
	// Dart 3.9.x (Flutter 3.35.x)
	"97ff04a728735e6b6b098bdf983faaba": "3.9.2", // Flutter 3.35.1
	// Dart 3.10.x (Flutter 3.38.x)
	"1ce86630892e2dca9a8543fdb8ed8e22": "3.10.7", // Flutter 3.38.4

	// Dart 2.14-2.19 (supported with CID tables)
	"9cf77f4405212c45daf608e1cd646852": "2.14.0", // Flutter 2.5.0
	"659a72e41e3276e882709901c27de33d": "2.14.0", // Flutter 2.4.0
	"f10776149bf76be288def3c2ca73bdc1": "2.15.0", // Flutter 2.6.0-5.2.pre (NativePointer inserted, CIDs shifted +1 from v2.14)
	"24d9d411c2f90c8fbe8907f99e89d4b0": "2.15.0", // Flutter 2.7.0-3.0.pre
	"d56742caf7b3b3f4bd2df93a9bbb5503": "2.16.0", // Flutter 2.16.0-134.1.beta
	"3318fe66091c0ffbb64faec39976cb7d": "2.16.0", // Flutter 2.16.0-80.1.beta
	"adf563436d12ba0d50ea5beb7f3be1bb": "2.16.0", // Flutter 2.8.0-3.1.pre
	"b0e899ec5a90e4661501f0b69e9dd70f": "2.18.0", // Flutter 3.3.0-0.1.pre
	"b6d0a1f034d158b0d37b51d559379697": "2.18.0", // Flutter 3.3.10
	"8e50e448b241be23b9e990094f4dca39": "2.18.0", // Flutter 2.18.0.165
	"6a9b5a03a7e784a4558b10c769f188d9": "2.18.0", // Flutter 2.18.0.44
	"adb4292f3ec25074ca70abcd2d5c7251": "2.19.0", // Flutter 3.7.12
	"501ef5cbd64ca70b6b42672346af6a8a": "2.19.0", // Flutter 3.7.0

	// Dart 3.0-3.1 additional hashes
	"36b0375d284ee2af0d0fffc6e6e48fde": "3.0.5", // Flutter 3.11.0-0.1.pre
	"16ad76edd19b537bf6ea64fdd31977a7": "3.0.5", // Flutter 3.12.0

	// Dart 2.10-2.13 (supported with CID tables, int32 tag format)
	"8ee4ef7a67df9845fba331734198a953": "2.10.0", // Flutter 1.22.6
	"e4a09dbf2bb120fe4674e0576617a0dc": "2.13.0", // Flutter 2.2.0
	"34f6eec64e9371856eaaa278ccf56538": "2.13.0", // Flutter 2.2.0-10.1.pre
	"7a5b240780941844bae88eca5dbaa7b8": "2.13.0", // Flutter 2.3.0
}

// CID tables generated from dartsdk/v*/runtime/vm/class_id.h.
// Only versions with different CID numbering need separate tables.

// v2.10.0 CIDs: pre-FunctionType split, has Bytecode/SignatureData/RedirectionData/ParameterTypeCheck/WASM.
// No TypeParameters, no Sentinel, no InstructionsTable, no FunctionType, no WeakReference,
// no SuspendState, no Record, no RecordType, no LinkedHashSet, no NativePointer. TypedData stride 3.
// Tag format: raw int32 CID. Single cluster loop (no canonical split).
var cidsV210 = CIDTable{
	Class: 4, PatchClass: 5, Function: 6,
	ClosureData: 7, SignatureData: 8, FfiTrampolineData: 10, Field: 11, Script: 12,
	Library: 13, Namespace: 14, KernelProgramInfo: 15,
	WeakSerializationReference: 77,
	// No TypeParameters in v2.10
	Code: 16, ObjectPool: 20, PcDescriptors: 21, CodeSourceMap: 22,
	CompressedStackMaps: 23, ExceptionHandlers: 25, Context: 26,
	ContextScope: 27, SingleTargetCache: 29, UnlinkedCall: 30,
	MonomorphicSmiableCall: 31, CallSiteData: 32,
	ICData: 33, MegamorphicCache: 34, SubtypeTestCache: 35,
	LoadingUnit: 36, LanguageError: 39, UnhandledException: 40,
	Instance: 42, LibraryPrefix: 43, TypeArguments: 44,
	Type: 46, TypeRef: 47, TypeParameter: 48,
	// No FunctionType in v2.10 (FunctionType was added in 2.13)
	Closure: 49, Mint: 53, Double: 54,
	GrowableObjectArray: 56,
	Float32x4:           57, Int32x4: 58, Float64x2: 59,
	TypedData: 61, ExternalTypedData: 62, TypedDataView: 63,
	Capability: 66, ReceivePort: 67, SendPort: 68,
	StackTrace: 69, RegExp: 70, WeakProperty: 71,
	FutureOr: 74, UserTag: 75, TransferableTypedData: 76,
	// v2.10 has LinkedHashMap only (no Set, no Immutable variants)
	Map:   73,
	Array: 78, ImmutableArray: 79,
	String: 80, OneByteString: 81, TwoByteString: 82,
	// TypedData internals: stride 3 (no UnmodifiableView)
	TypedDataInt8ArrayCid: 108, ByteDataViewCid: 150, TypedDataCidStride: 3,
	NumPredefinedCids: 156,
}

// v2.13.0 CIDs: adds FunctionType, removes SignatureData/RedirectionData/Bytecode/ParameterTypeCheck/WASM.
// No TypeParameters, no Sentinel, no WeakReference, no SuspendState, no Record, no RecordType.
// No LinkedHashSet. No NativePointer. TypedData stride 3.
// Tag format: raw int32 CID. Split canonical/non-canonical cluster loops.
var cidsV213 = CIDTable{
	Class: 4, PatchClass: 5, Function: 6,
	ClosureData: 7, FfiTrampolineData: 8, Field: 9, Script: 10,
	Library: 11, Namespace: 12, KernelProgramInfo: 13,
	WeakSerializationReference: 14,
	// No TypeParameters in v2.13
	Code: 15, ObjectPool: 18, PcDescriptors: 19, CodeSourceMap: 20,
	CompressedStackMaps: 21, ExceptionHandlers: 23, Context: 24,
	ContextScope: 25, SingleTargetCache: 26, UnlinkedCall: 27,
	MonomorphicSmiableCall: 28, CallSiteData: 29,
	ICData: 30, MegamorphicCache: 31, SubtypeTestCache: 32,
	LoadingUnit: 33, LanguageError: 36, UnhandledException: 37,
	Instance: 39, LibraryPrefix: 40, TypeArguments: 41,
	Type: 43, FunctionType: 44, TypeRef: 45, TypeParameter: 46,
	Closure: 47, Mint: 51, Double: 52,
	GrowableObjectArray: 54,
	Float32x4:           55, Int32x4: 56, Float64x2: 57,
	TypedData: 59, ExternalTypedData: 60, TypedDataView: 61,
	Capability: 64, ReceivePort: 65, SendPort: 66,
	StackTrace: 67, RegExp: 68, WeakProperty: 69,
	FutureOr: 72, UserTag: 73, TransferableTypedData: 74,
	// v2.13 has LinkedHashMap only (no Set, no Immutable variants)
	Map:   71,
	Array: 75, ImmutableArray: 76,
	String: 77, OneByteString: 78, TwoByteString: 79,
	// TypedData internals: stride 3 (no UnmodifiableView)
	TypedDataInt8ArrayCid: 100, ByteDataViewCid: 142, TypedDataCidStride: 3,
	NumPredefinedCids: 148,
}

// v2.14.0 CIDs: adds TypeParameters, InstructionsTable, Sentinel, LinkedHashSet
// vs 2.13.0. No WeakArray, WeakReference, SuspendState, Record, RecordType.
// No ImmutableLinkedHashMap/Set (ConstMap/ConstSet). No NativePointer. TypedData stride 3.
var cidsV214 = CIDTable{
	Class: 4, PatchClass: 5, Function: 6, TypeParameters: 7,
	ClosureData: 8, FfiTrampolineData: 9, Field: 10, Script: 11,
	Library: 12, Namespace: 13, KernelProgramInfo: 14,
	WeakSerializationReference: 15,
	// No WeakArray in v2.14
	Code: 16, ObjectPool: 20, PcDescriptors: 21, CodeSourceMap: 22,
	CompressedStackMaps: 23, ExceptionHandlers: 25, Context: 26,
	ContextScope: 27, Sentinel: 28, SingleTargetCache: 29,
	UnlinkedCall: 30, MonomorphicSmiableCall: 31, CallSiteData: 32,
	ICData: 33, MegamorphicCache: 34, SubtypeTestCache: 35,
	LoadingUnit: 36, LanguageError: 39, UnhandledException: 40,
	Instance: 42, LibraryPrefix: 43, TypeArguments: 44,
	Type: 46, FunctionType: 47, TypeRef: 48, TypeParameter: 49,
	Closure: 50, Mint: 54, Double: 55,
	Float32x4: 58, Int32x4: 59, Float64x2: 60,
	TypedData: 62, ExternalTypedData: 63, TypedDataView: 64,
	Capability: 67, ReceivePort: 68, SendPort: 69,
	StackTrace: 70, RegExp: 71, WeakProperty: 72,
	FutureOr: 74, UserTag: 75, TransferableTypedData: 76,
	// v2.14 has LinkedHashMap/Set but no Immutable variants
	Map: 77, Set: 78,
	Array: 79, ImmutableArray: 80, GrowableObjectArray: 57,
	String: 81, OneByteString: 82, TwoByteString: 83,
	// TypedData internals: stride 3 (no UnmodifiableView)
	TypedDataInt8ArrayCid: 104, ByteDataViewCid: 146, TypedDataCidStride: 3,
	NumPredefinedCids: 152,
}

// v2.15.0 CIDs: NativePointer(1) inserted at CID 1, and GrowableObjectArray
// moved from CLASS_LIST_INSTANCE_SINGLETONS to CLASS_LIST_ARRAYS (after ImmutableArray).
// Net effect: Class..Bool get +1 shift (NativePointer), Float32x4..TransferableTypedData
// get +0 (NativePointer +1, GOA removal -1), Map/Set/Array/ImmutableArray get +0,
// GOA moves from CID 57 to CID 81, String and beyond get +1.
// No ImmutableLinkedHashMap/Set (those were added in v2.16).
// Hash f10776149bf76be288def3c2ca73bdc1 (Flutter 2.6.0-5.2.pre) uses this layout.
var cidsV215 = CIDTable{
	Class: 5, PatchClass: 6, Function: 7, TypeParameters: 8,
	ClosureData: 9, FfiTrampolineData: 10, Field: 11, Script: 12,
	Library: 13, Namespace: 14, KernelProgramInfo: 15,
	WeakSerializationReference: 16,
	// No WeakArray in v2.15
	Code: 17, ObjectPool: 21, PcDescriptors: 22, CodeSourceMap: 23,
	CompressedStackMaps: 24, ExceptionHandlers: 26, Context: 27,
	ContextScope: 28, Sentinel: 29, SingleTargetCache: 30,
	UnlinkedCall: 31, MonomorphicSmiableCall: 32, CallSiteData: 33,
	ICData: 34, MegamorphicCache: 35, SubtypeTestCache: 36,
	LoadingUnit: 37, LanguageError: 40, UnhandledException: 41,
	Instance: 43, LibraryPrefix: 44, TypeArguments: 45,
	Type: 47, FunctionType: 48, TypeRef: 49, TypeParameter: 50,
	Closure: 51, Mint: 55, Double: 56,
	// v2.15 pre-release: NativePointer(CID 1) inserts +1 for Class..Bool,
	// but GrowableObjectArray moved from INSTANCE_SINGLETONS to ARRAYS group
	// (after ImmutableArray), so classes from Float32x4..TransferableTypedData
	// get net +0 shift (+1 NativePointer, -1 GOA removal).
	// Map/Set/Array/ImmutableArray also net +0. GOA moves to CID 81.
	// String and beyond get +1 (NativePointer +1, GOA removal -1, GOA insertion +1).
	Float32x4: 58, Int32x4: 59, Float64x2: 60,
	TypedData: 62, ExternalTypedData: 63, TypedDataView: 64,
	Capability: 67, ReceivePort: 68, SendPort: 69,
	StackTrace: 70, RegExp: 71, WeakProperty: 72,
	FutureOr: 74, UserTag: 75, TransferableTypedData: 76,
	// v2.15 pre-release: LinkedHashMap/Set only (no Immutable variants)
	Map: 77, Set: 78,
	Array: 79, ImmutableArray: 80, GrowableObjectArray: 81,
	String: 82, OneByteString: 83, TwoByteString: 84,
	// TypedData internals: stride 3 (no UnmodifiableView)
	TypedDataInt8ArrayCid: 105, ByteDataViewCid: 147, TypedDataCidStride: 3,
	NativePointerCid: 1, NumPredefinedCids: 153,
}

// v2.16.0 CIDs: adds NativePointer(1), ImmutableLinkedHashMap/Set (ConstMap/ConstSet),
// FfiBool, GrowableObjectArray moved to arrays group. TypedData stride 3.
var cidsV216 = CIDTable{
	Class: 5, PatchClass: 6, Function: 7, TypeParameters: 8,
	ClosureData: 9, FfiTrampolineData: 10, Field: 11, Script: 12,
	Library: 13, Namespace: 14, KernelProgramInfo: 15,
	WeakSerializationReference: 16,
	// No WeakArray in v2.16
	Code: 17, ObjectPool: 21, PcDescriptors: 22, CodeSourceMap: 23,
	CompressedStackMaps: 24, ExceptionHandlers: 26, Context: 27,
	ContextScope: 28, Sentinel: 29, SingleTargetCache: 30,
	UnlinkedCall: 31, MonomorphicSmiableCall: 32, CallSiteData: 33,
	ICData: 34, MegamorphicCache: 35, SubtypeTestCache: 36,
	LoadingUnit: 37, LanguageError: 40, UnhandledException: 41,
	Instance: 43, LibraryPrefix: 44, TypeArguments: 45,
	Type: 47, FunctionType: 48, TypeRef: 49, TypeParameter: 50,
	Closure: 51, Mint: 55, Double: 56,
	Float32x4: 58, Int32x4: 59, Float64x2: 60,
	TypedData: 62, ExternalTypedData: 63, TypedDataView: 64,
	Capability: 67, ReceivePort: 68, SendPort: 69,
	StackTrace: 70, RegExp: 71, WeakProperty: 72,
	FutureOr: 74, UserTag: 75, TransferableTypedData: 76,
	// v2.16 has LinkedHashMap + ImmutableLinkedHashMap, LinkedHashSet + ImmutableLinkedHashSet
	Map: 77, ConstMap: 78, Set: 79, ConstSet: 80,
	Array: 81, ImmutableArray: 82, GrowableObjectArray: 83,
	String: 84, OneByteString: 85, TwoByteString: 86,
	// TypedData internals: stride 3 (no UnmodifiableView)
	TypedDataInt8ArrayCid: 106, ByteDataViewCid: 148, TypedDataCidStride: 3,
	NativePointerCid: 1, NumPredefinedCids: 154,
}

var cidsV217 = CIDTable{
	Class: 5, PatchClass: 6, Function: 7, TypeParameters: 8,
	ClosureData: 9, FfiTrampolineData: 10, Field: 11, Script: 12,
	Library: 13, Namespace: 14, KernelProgramInfo: 15,
	WeakSerializationReference: 16,
	// WeakArray not present in v2.17.6 CLASS_LIST_INTERNAL_ONLY
	Code: 17, ObjectPool: 21, PcDescriptors: 22, CodeSourceMap: 23,
	CompressedStackMaps: 24, ExceptionHandlers: 26, Context: 27,
	ContextScope: 28, Sentinel: 29, SingleTargetCache: 30,
	UnlinkedCall: 31, MonomorphicSmiableCall: 32, CallSiteData: 33,
	ICData: 34, MegamorphicCache: 35, SubtypeTestCache: 36,
	LoadingUnit: 37, LanguageError: 40, UnhandledException: 41,
	Instance: 43, LibraryPrefix: 44, TypeArguments: 45,
	Type: 47, FunctionType: 52, TypeParameter: 54,
	TypeRef: 53,
	Closure: 55, Mint: 59, Double: 60,
	Float32x4: 62, Int32x4: 63, Float64x2: 64,
	TypedData: 66, ExternalTypedData: 67, TypedDataView: 68,
	Capability: 71, ReceivePort: 72, SendPort: 73,
	StackTrace: 74, RegExp: 75, WeakProperty: 76, WeakReference: 77,
	FutureOr: 79, UserTag: 80, TransferableTypedData: 81,
	// v2.17.6 uses LinkedHashMap/LinkedHashSet instead of Map/Set
	Map: 82, ConstMap: 83, Set: 84, ConstSet: 85,
	Array: 86, ImmutableArray: 87, GrowableObjectArray: 88,
	String: 89, OneByteString: 90, TwoByteString: 91,
	// TypedData internals: stride 3 (no UnmodifiableView in v2.17.6)
	TypedDataInt8ArrayCid: 110, ByteDataViewCid: 152, TypedDataCidStride: 3,
	NativePointerCid: 1, NumPredefinedCids: 158,
}

// v2.18.0 CIDs: identical to v2.17.6 except SuspendState added after StackTrace,
// shifting RegExp and all subsequent CIDs by +1. No WeakArray. TypedData stride 3.
var cidsV218 = CIDTable{
	Class: 5, PatchClass: 6, Function: 7, TypeParameters: 8,
	ClosureData: 9, FfiTrampolineData: 10, Field: 11, Script: 12,
	Library: 13, Namespace: 14, KernelProgramInfo: 15,
	WeakSerializationReference: 16,
	// No WeakArray in v2.18
	Code: 17, ObjectPool: 21, PcDescriptors: 22, CodeSourceMap: 23,
	CompressedStackMaps: 24, ExceptionHandlers: 26, Context: 27,
	ContextScope: 28, Sentinel: 29, SingleTargetCache: 30,
	UnlinkedCall: 31, MonomorphicSmiableCall: 32, CallSiteData: 33,
	ICData: 34, MegamorphicCache: 35, SubtypeTestCache: 36,
	LoadingUnit: 37, LanguageError: 40, UnhandledException: 41,
	Instance: 43, LibraryPrefix: 44, TypeArguments: 45,
	Type: 47, FunctionType: 52, TypeParameter: 54,
	TypeRef: 53,
	Closure: 55, Mint: 59, Double: 60,
	Float32x4: 62, Int32x4: 63, Float64x2: 64,
	TypedData: 66, ExternalTypedData: 67, TypedDataView: 68,
	Capability: 71, ReceivePort: 72, SendPort: 73,
	StackTrace: 74, SuspendState: 75, RegExp: 76,
	WeakProperty: 77, WeakReference: 78,
	FutureOr: 80, UserTag: 81, TransferableTypedData: 82,
	// v2.18 uses LinkedHashMap/LinkedHashSet
	Map: 83, ConstMap: 84, Set: 85, ConstSet: 86,
	Array: 87, ImmutableArray: 88, GrowableObjectArray: 89,
	String: 90, OneByteString: 91, TwoByteString: 92,
	// TypedData internals: stride 3 (no UnmodifiableView in v2.18)
	TypedDataInt8ArrayCid: 111, ByteDataViewCid: 153, TypedDataCidStride: 3,
	NativePointerCid: 1, NumPredefinedCids: 159,
}

// v2.19.0 CIDs: structurally identical to v3.0.5 but without WeakArray,
// so all CIDs from Code onward are offset by -1 compared to cidsV305.
// Adds RecordType, Record. TypedData stride 4 (with UnmodifiableView).
var cidsV219 = CIDTable{
	Class: 5, PatchClass: 6, Function: 7, TypeParameters: 8,
	ClosureData: 9, FfiTrampolineData: 10, Field: 11, Script: 12,
	Library: 13, Namespace: 14, KernelProgramInfo: 15,
	WeakSerializationReference: 16,
	// No WeakArray in v2.19
	Code: 17, ObjectPool: 21, PcDescriptors: 22, CodeSourceMap: 23,
	CompressedStackMaps: 24, ExceptionHandlers: 26, Context: 27,
	ContextScope: 28, Sentinel: 29, SingleTargetCache: 30,
	UnlinkedCall: 31, MonomorphicSmiableCall: 32, CallSiteData: 33,
	ICData: 34, MegamorphicCache: 35, SubtypeTestCache: 36,
	LoadingUnit: 37, LanguageError: 40, UnhandledException: 41,
	Instance: 43, LibraryPrefix: 44, TypeArguments: 45,
	Type: 47, FunctionType: 48, RecordType: 49, TypeRef: 50, TypeParameter: 51,
	Closure: 56, Mint: 60, Double: 61,
	Float32x4: 63, Int32x4: 64, Float64x2: 65, Record: 66,
	TypedData: 68, ExternalTypedData: 69, TypedDataView: 70,
	Capability: 73, ReceivePort: 74, SendPort: 75,
	StackTrace: 76, SuspendState: 77, RegExp: 78,
	WeakProperty: 79, WeakReference: 80,
	FutureOr: 82, UserTag: 83, TransferableTypedData: 84,
	Map: 85, ConstMap: 86, Set: 87, ConstSet: 88,
	Array: 89, ImmutableArray: 90, GrowableObjectArray: 91,
	String: 92, OneByteString: 93, TwoByteString: 94,
	TypedDataInt8ArrayCid: 113, ByteDataViewCid: 169, TypedDataCidStride: 4,
	NativePointerCid: 1, NumPredefinedCids: 176,
}

// v3.0.5 CIDs: same layout as v3.2.5 except TypeRef still present (between
// RecordType and TypeParameter). This shifts TypeParameter and all subsequent
// CIDs by +1 compared to v3.1.0+.
var cidsV305 = CIDTable{
	Class: 5, PatchClass: 6, Function: 7, TypeParameters: 8,
	ClosureData: 9, FfiTrampolineData: 10, Field: 11, Script: 12,
	Library: 13, Namespace: 14, KernelProgramInfo: 15,
	WeakSerializationReference: 16, WeakArray: 17,
	Code: 18, ObjectPool: 22, PcDescriptors: 23, CodeSourceMap: 24,
	CompressedStackMaps: 25, ExceptionHandlers: 27, Context: 28,
	ContextScope: 29, Sentinel: 30, SingleTargetCache: 31,
	UnlinkedCall: 32, MonomorphicSmiableCall: 33, CallSiteData: 34,
	ICData: 35, MegamorphicCache: 36, SubtypeTestCache: 37,
	LoadingUnit: 38, LanguageError: 41, UnhandledException: 42,
	Instance: 44, LibraryPrefix: 45, TypeArguments: 46,
	Type: 48, FunctionType: 49, RecordType: 50, TypeRef: 51, TypeParameter: 52,
	Closure: 57, Mint: 61, Double: 62,
	Float32x4: 64, Int32x4: 65, Float64x2: 66, Record: 67,
	TypedData: 69, ExternalTypedData: 70, TypedDataView: 71,
	Capability: 74, ReceivePort: 75, SendPort: 76,
	StackTrace: 77, SuspendState: 78, RegExp: 79,
	WeakProperty: 80, WeakReference: 81,
	FutureOr: 83, UserTag: 84, TransferableTypedData: 85,
	Map: 86, ConstMap: 87, Set: 88, ConstSet: 89,
	Array: 90, ImmutableArray: 91, GrowableObjectArray: 92,
	String: 93, OneByteString: 94, TwoByteString: 95,
	TypedDataInt8ArrayCid: 114, ByteDataViewCid: 170, TypedDataCidStride: 4,
	NativePointerCid: 1, NumPredefinedCids: 177,
}

var cidsV325 = CIDTable{
	Class: 5, PatchClass: 6, Function: 7, TypeParameters: 8,
	ClosureData: 9, FfiTrampolineData: 10, Field: 11, Script: 12,
	Library: 13, Namespace: 14, KernelProgramInfo: 15,
	WeakSerializationReference: 16, WeakArray: 17,
	Code: 18, ObjectPool: 22, PcDescriptors: 23, CodeSourceMap: 24,
	CompressedStackMaps: 25, ExceptionHandlers: 27, Context: 28,
	ContextScope: 29, Sentinel: 30, SingleTargetCache: 31,
	UnlinkedCall: 32, MonomorphicSmiableCall: 33, CallSiteData: 34,
	ICData: 35, MegamorphicCache: 36, SubtypeTestCache: 37,
	LoadingUnit: 38, LanguageError: 41, UnhandledException: 42,
	Instance: 44, LibraryPrefix: 45, TypeArguments: 46,
	Type: 48, FunctionType: 49, RecordType: 50, TypeParameter: 51,
	Closure: 56, Mint: 60, Double: 61,
	Float32x4: 63, Int32x4: 64, Float64x2: 65, Record: 66,
	TypedData: 68, ExternalTypedData: 69, TypedDataView: 70,
	Capability: 73, ReceivePort: 74, SendPort: 75,
	StackTrace: 76, SuspendState: 77, RegExp: 78,
	WeakProperty: 79, WeakReference: 80,
	FutureOr: 82, UserTag: 83, TransferableTypedData: 84,
	Map: 85, ConstMap: 86, Set: 87, ConstSet: 88,
	Array: 89, ImmutableArray: 90, GrowableObjectArray: 91,
	String: 92, OneByteString: 93, TwoByteString: 94,
	TypedDataInt8ArrayCid: 113, ByteDataViewCid: 169, TypedDataCidStride: 4,
	NativePointerCid: 1, NumPredefinedCids: 176,
}

// v3.4.3 CIDs: same as v3.2.5 except Bytecode removed (no Bytecode CID 19),
// all CIDs after Code shift by -1 compared to v3.9.2 (which has Bytecode at 19).
var cidsV343 = CIDTable{
	Class: 5, PatchClass: 6, Function: 7, TypeParameters: 8,
	ClosureData: 9, FfiTrampolineData: 10, Field: 11, Script: 12,
	Library: 13, Namespace: 14, KernelProgramInfo: 15,
	WeakSerializationReference: 16, WeakArray: 17,
	Code: 18, ObjectPool: 22, PcDescriptors: 23, CodeSourceMap: 24,
	CompressedStackMaps: 25, ExceptionHandlers: 27, Context: 28,
	ContextScope: 29, Sentinel: 30, SingleTargetCache: 31,
	UnlinkedCall: 32, MonomorphicSmiableCall: 33, CallSiteData: 34,
	ICData: 35, MegamorphicCache: 36, SubtypeTestCache: 37,
	LoadingUnit: 38, LanguageError: 41, UnhandledException: 42,
	Instance: 44, LibraryPrefix: 45, TypeArguments: 46,
	Type: 48, FunctionType: 49, RecordType: 50, TypeParameter: 51,
	Closure: 56, Mint: 60, Double: 61,
	Float32x4: 63, Int32x4: 64, Float64x2: 65, Record: 66,
	TypedData: 68, ExternalTypedData: 69, TypedDataView: 70,
	Capability: 73, ReceivePort: 74, SendPort: 75,
	StackTrace: 76, SuspendState: 77, RegExp: 78,
	WeakProperty: 79, WeakReference: 80,
	FutureOr: 82, UserTag: 83, TransferableTypedData: 84,
	Map: 85, ConstMap: 86, Set: 87, ConstSet: 88,
	Array: 89, ImmutableArray: 90, GrowableObjectArray: 91,
	String: 92, OneByteString: 93, TwoByteString: 94,
	TypedDataInt8ArrayCid: 111, ByteDataViewCid: 167, TypedDataCidStride: 4,
	NativePointerCid: 1, NumPredefinedCids: 174,
}

// v3.6.2 through v3.8.1: nearly identical to v3.9.2 except for
// UnlinkedCall/MonomorphicSmiableCall/CallSiteData ordering.
var cidsV362 = CIDTable{
	Class: 5, PatchClass: 6, Function: 7, TypeParameters: 8,
	ClosureData: 9, FfiTrampolineData: 10, Field: 11, Script: 12,
	Library: 13, Namespace: 14, KernelProgramInfo: 15,
	WeakSerializationReference: 16, WeakArray: 17,
	Code: 18, ObjectPool: 23, PcDescriptors: 24, CodeSourceMap: 25,
	CompressedStackMaps: 26, ExceptionHandlers: 28, Context: 29,
	ContextScope: 30, Sentinel: 31, SingleTargetCache: 32,
	UnlinkedCall: 33, MonomorphicSmiableCall: 34, CallSiteData: 35,
	ICData: 36, MegamorphicCache: 37, SubtypeTestCache: 38,
	LoadingUnit: 39, LanguageError: 42, UnhandledException: 43,
	Instance: 45, LibraryPrefix: 46, TypeArguments: 47,
	Type: 49, FunctionType: 50, RecordType: 51, TypeParameter: 52,
	Closure: 57, Mint: 61, Double: 62,
	Float32x4: 64, Int32x4: 65, Float64x2: 66, Record: 67,
	TypedData: 69, ExternalTypedData: 70, TypedDataView: 71,
	Capability: 74, ReceivePort: 75, SendPort: 76,
	StackTrace: 77, SuspendState: 78, RegExp: 79,
	WeakProperty: 80, WeakReference: 81,
	FutureOr: 83, UserTag: 84, TransferableTypedData: 85,
	Map: 86, ConstMap: 87, Set: 88, ConstSet: 89,
	Array: 90, ImmutableArray: 91, GrowableObjectArray: 92,
	String: 93, OneByteString: 94, TwoByteString: 95,
	TypedDataInt8ArrayCid: 112, ByteDataViewCid: 168, TypedDataCidStride: 4,
	NativePointerCid: 1, NumPredefinedCids: 175,
}

// v3.9.2 and v3.10.7: the CID table currently hardcoded in cid.go.
var cidsV392 = CIDTable{
	Class: 5, PatchClass: 6, Function: 7, TypeParameters: 8,
	ClosureData: 9, FfiTrampolineData: 10, Field: 11, Script: 12,
	Library: 13, Namespace: 14, KernelProgramInfo: 15,
	WeakSerializationReference: 16, WeakArray: 17,
	Code: 18, ObjectPool: 23, PcDescriptors: 24, CodeSourceMap: 25,
	CompressedStackMaps: 26, ExceptionHandlers: 28, Context: 29,
	ContextScope: 30, Sentinel: 31, SingleTargetCache: 32,
	UnlinkedCall: 35, MonomorphicSmiableCall: 33, CallSiteData: 34,
	ICData: 36, MegamorphicCache: 37, SubtypeTestCache: 38,
	LoadingUnit: 39, LanguageError: 42, UnhandledException: 43,
	Instance: 45, LibraryPrefix: 46, TypeArguments: 47,
	Type: 49, FunctionType: 50, RecordType: 51, TypeParameter: 52,
	Closure: 57, Mint: 61, Double: 62,
	Float32x4: 64, Int32x4: 65, Float64x2: 66, Record: 67,
	TypedData: 69, ExternalTypedData: 70, TypedDataView: 71,
	Capability: 74, ReceivePort: 75, SendPort: 76,
	StackTrace: 77, SuspendState: 78, RegExp: 79,
	WeakProperty: 80, WeakReference: 81,
	FutureOr: 83, UserTag: 84, TransferableTypedData: 85,
	Map: 86, ConstMap: 87, Set: 88, ConstSet: 89,
	Array: 90, ImmutableArray: 91, GrowableObjectArray: 92,
	String: 93, OneByteString: 94, TwoByteString: 95,
	TypedDataInt8ArrayCid: 112, ByteDataViewCid: 168, TypedDataCidStride: 4,
	NativePointerCid: 1, NumPredefinedCids: 175,
}

var versionProfiles = map[string]*VersionProfile{
	"2.10.0": {DartVersion: "2.10.0", Supported: true, HeaderFields: 4, Tags: TagStyleCidInt32, CIDs: &cidsV210, FillRefUnsigned: true, PreV32Format: true, HasTypeParamClassId: true, TypeParamByteScalars: true, OldTypeScalars: true, TopLevelCid16: true, OldPoolFormat: true, OldStringFormat: true, PreCanonicalSplit: true, ClassNumRefs: 16, ClassHasTokenPos: true, FuncNumRefs: 7, TypeNumRefs: 5, TypeClassIdIsRef: true, TypeHasTokenPos: true, TypeParamNumRefs: 5, CodeNumRefs: 7, CodeTextOffsetDelta: true, CodeStateBitsAtEnd: true, ScriptHasLineCol: true, ScriptHasFlags: true},
	"2.13.0": {DartVersion: "2.13.0", Supported: true, HeaderFields: 5, Tags: TagStyleCidInt32, CIDs: &cidsV213, FillRefUnsigned: true, PreV32Format: true, HasTypeParamClassId: true, TypeParamByteScalars: true, OldTypeScalars: true, TopLevelCid16: true, OldPoolFormat: true, OldStringFormat: true, SplitCanonical: true, ClassNumRefs: 15, ClassHasTokenPos: true, FuncNumRefs: 5, TypeNumRefs: 4, TypeClassIdIsRef: true, FuncTypeOldScalars: true, TypeParamNumRefs: 5, TypeParamWideScalars: true, CodeNumRefs: 7, CodeTextOffsetDelta: true, CodeStateBitsAfterRef: 1, ClosureDataNumRefs: 3, ScriptHasLineCol: true},
	"2.14.0": {DartVersion: "2.14.0", Supported: true, HeaderFields: 5, Tags: TagStyleCidShift1, CIDs: &cidsV214, FillRefUnsigned: true, PreV32Format: true, HasTypeParamClassId: true, TypeParamByteScalars: true, OldTypeScalars: true, TopLevelCid16: true, OldPoolFormat: true, OldStringFormat: true, TypeClassIdIsRef: true, TypeNumRefs: 4, CodeNumRefs: 7, CodeTextOffsetDelta: true, FuncTypeNumRefs: 6, TypeParamNumRefs: 3, TypeRefNumRefs: 2},
	"2.15.0": {DartVersion: "2.15.0", Supported: true, HeaderFields: 5, Tags: TagStyleCidShift1, CIDs: &cidsV215, FillRefUnsigned: true, PreV32Format: true, HasTypeParamClassId: true, TypeParamByteScalars: true, OldTypeScalars: true, TopLevelCid16: true, OldPoolFormat: true, OldStringFormat: true, TypeClassIdIsRef: true, TypeNumRefs: 4, CodeNumRefs: 7, CodeTextOffsetDelta: true, FuncTypeNumRefs: 6, TypeParamNumRefs: 3, TypeRefNumRefs: 2},
	"2.16.0": {DartVersion: "2.16.0", Supported: true, HeaderFields: 6, Tags: TagStyleCidShift1, CIDs: &cidsV216, FillRefUnsigned: true, PreV32Format: true, HasTypeParamClassId: true, TypeParamByteScalars: true, OldTypeScalars: true, TopLevelCid16: true, OldPoolFormat: true},
	"2.17.6": {DartVersion: "2.17.6", Supported: true, HeaderFields: 6, Tags: TagStyleCidShift1, CIDs: &cidsV217, FillRefUnsigned: true, PreV32Format: true, HasTypeParamClassId: true, TypeParamByteScalars: true, OldTypeScalars: true, TopLevelCid16: true, OldPoolFormat: true},
	"2.18.0": {DartVersion: "2.18.0", Supported: true, HeaderFields: 5, Tags: TagStyleCidShift1, CIDs: &cidsV218, PreV32Format: true, HasTypeParamClassId: true, TypeParamByteScalars: true, OldTypeScalars: true, TopLevelCid16: true, OldPoolFormat: true},
	"2.19.0": {DartVersion: "2.19.0", Supported: true, HeaderFields: 5, Tags: TagStyleCidShift1, CIDs: &cidsV219, PreV32Format: true, HasTypeParamClassId: true, TypeParamByteScalars: true, OldPoolFormat: true},
	"3.0.5":  {DartVersion: "3.0.5", Supported: true, HeaderFields: 5, Tags: TagStyleCidShift1, CIDs: &cidsV305, PreV32Format: true, HasTypeParamClassId: true, OldPoolFormat: true},
	"3.1.0":  {DartVersion: "3.1.0", Supported: true, HeaderFields: 5, Tags: TagStyleCidShift1, CIDs: &cidsV325, PreV32Format: true, OldPoolFormat: true},
	"3.2.5":  {DartVersion: "3.2.5", Supported: true, HeaderFields: 5, Tags: TagStyleCidShift1, CIDs: &cidsV325, OldPoolFormat: true, PoolTypeSwapped: true},
	"3.3.0":  {DartVersion: "3.3.0", Supported: true, HeaderFields: 5, Tags: TagStyleCidShift1, CIDs: &cidsV325},
	"3.4.3":  {DartVersion: "3.4.3", Supported: true, HeaderFields: 5, Tags: TagStyleObjectHeader, CIDs: &cidsV343},
	"3.5.0":  {DartVersion: "3.5.0", Supported: true, HeaderFields: 5, Tags: TagStyleObjectHeader, CIDs: &cidsV343},
	"3.6.2":  {DartVersion: "3.6.2", Supported: true, HeaderFields: 5, Tags: TagStyleObjectHeader, CIDs: &cidsV362},
	"3.7.0":  {DartVersion: "3.7.0", Supported: true, HeaderFields: 5, Tags: TagStyleObjectHeader, CIDs: &cidsV362},
	"3.8.1":  {DartVersion: "3.8.1", Supported: true, HeaderFields: 5, Tags: TagStyleObjectHeader, CIDs: &cidsV362},
	"3.9.2":  {DartVersion: "3.9.2", Supported: true, HeaderFields: 5, Tags: TagStyleObjectHeader, CIDs: &cidsV392},
	"3.10.7": {DartVersion: "3.10.7", Supported: true, HeaderFields: 5, Tags: TagStyleObjectHeader, CIDs: &cidsV392},
}

// DetectVersion returns a VersionProfile for the given snapshot hash.
// For supported versions, returns a full profile with Supported=true.
// For known but unsupported versions (e.g. Dart 2.x without CID tables),
// returns a minimal profile with Supported=false.
// For completely unknown hashes, returns a v3.9.2 fallback with empty DartVersion.
func DetectVersion(hash string) *VersionProfile {
	version := knownHashes[hash]
	if version == "" {
		// Unknown hash. Return v3.9.2 profile with empty DartVersion
		// so caller can probe the actual tag style.
		p := *versionProfiles["3.9.2"]
		p.DartVersion = ""
		return &p
	}
	p, ok := versionProfiles[version]
	if !ok {
		// Known version but no profile — known but unsupported.
		return &VersionProfile{
			DartVersion: version,
			Supported:   false,
		}
	}
	return p
}

// ProbeTagStyle reads the first cluster tag using both tag styles and returns
// the profile that produces a valid CID. clusterStart is the byte offset
// where clustered data begins. This is used for unknown snapshot hashes.
func ProbeTagStyle(data []byte, clusterStart int) *VersionProfile {
	// Try each candidate profile and check first-cluster CID plausibility.
	candidates := []*VersionProfile{
		versionProfiles["3.9.2"],  // TagStyleObjectHeader, 5 fields
		versionProfiles["3.2.5"],  // TagStyleCidShift1, 5 fields
		versionProfiles["2.17.6"], // TagStyleCidShift1, 6 fields
		versionProfiles["2.13.0"], // TagStyleCidInt32, 5 fields (split canonical)
		versionProfiles["2.10.0"], // TagStyleCidInt32, 4 fields (no canonical split)
	}

	for _, prof := range candidates {
		cid := probeFirstCID(data, clusterStart, prof)
		if cid > 0 && cid < 200 {
			// Valid-looking CID. Confirm it maps to a known type.
			p := *prof
			p.DartVersion = ""
			return &p
		}
	}
	// Fallback to latest.
	p := *versionProfiles["3.9.2"]
	return &p
}

// probeFirstCID reads the header and first cluster tag, returning the CID.
// Returns -1 on any error.
func probeFirstCID(data []byte, clusterStart int, prof *VersionProfile) int {
	if clusterStart >= len(data)-20 {
		return -1
	}

	// Use a minimal stream reader to skip header fields and read the tag.
	pos := clusterStart

	// Skip header fields using inline VLE decoding.
	// Both ReadUnsigned (endMarker=128) and ReadTagged64 (endMarker=192)
	// use the same terminal condition: byte > 127. They differ only in
	// value decoding, which we don't need here.
	for i := 0; i < prof.HeaderFields; i++ {
		for pos < len(data) {
			b := data[pos]
			pos++
			if b > 127 { // terminal byte
				break
			}
		}
	}

	if pos >= len(data)-4 {
		return -1
	}

	// Decode tag based on tag style.
	switch prof.Tags {
	case TagStyleCidShift1:
		// ReadTagged64: read until byte > 127, subtract 192.
		var val int64
		var shift uint
		for pos < len(data) {
			b := data[pos]
			pos++
			if b > 127 {
				val |= int64(int(b)-192) << shift
				break
			}
			val |= int64(b) << shift
			shift += 7
		}
		cid := int(val >> 1)
		return cid

	case TagStyleObjectHeader:
		// ReadTagged32: read until byte > 127, subtract 192.
		var val int32
		var shift uint
		for pos < len(data) {
			b := data[pos]
			pos++
			if b > 127 {
				val |= int32(int(b)-192) << shift
				break
			}
			val |= int32(b) << shift
			shift += 7
		}
		cid := int((uint32(val) >> 12) & 0xFFFFF)
		return cid

	case TagStyleCidInt32:
		// Read<int32_t>(cid): signed VLE (endMarker=192), value = CID directly.
		var val int64
		var shift uint
		for pos < len(data) {
			b := data[pos]
			pos++
			if b > 127 {
				val |= int64(int(b)-192) << shift
				break
			}
			val |= int64(b) << shift
			shift += 7
		}
		return int(val)
	}
	return -1
}

// VersionFromHash returns the Dart SDK version string for a known hash,
// or empty string if unknown.
func VersionFromHash(hash string) string {
	return knownHashes[hash]
}
