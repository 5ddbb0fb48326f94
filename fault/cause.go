package fault

// Cause enumerates every reason the aggregator can record a fault, in the
// exact dense order of the original CauseToSig_Table. Index 0 is the
// sentinel "no cause"; it is never set or published.
type Cause int

const (
	NoErrorCause Cause = iota
	ReqRstFPGASelfTestFail
	ReqRstMotorTestFail
	ReqRstBattOnewireReadError
	ReqRstBattOnewireWriteError
	ReqRstI2CBusLockup
	PermfailOledSelfTest
	PermfailOnewireMasterCommFail
	PermfailOnewireAuthFail
	PermfailOnewireWriteFail
	PermfailOnewireReadFail
	PermfailOnewireShort
	PermfailBatteryOnewireSelfTestFail
	HandleEolZeroBattChargeCycle
	AccelSelfTestFail
	ReqRstMcuHardFault
	ReqRstRamIntegrityFail
	ReqRstProgramFlashIntegrityFail
	ReqRstMemoryFenceError
	ReqRstFpgaReadFail
	ReqRstMotorStallsNotCommanded
	ReqRstGpioExpCommFail
	ReqRstWatchdogInitFail
	ReqRstTaskMonitorFail
	ReqRstSystemFault
	ReqRstBattOnewireWriteFail
	ReqRstBattOnewireReadFail
	BatteryCommFail
	BatteryTempOutOfRange
	BattShutdnVoltageTooLow
	BattWarnChargeCycleIncrement
	BattChargeCycleEol
	SdCardMissing
	PermfailBattOnewireShort
	PermfailBattOnewireAuthFail
	HandleMemoryError
	PiezoGpioFail
	FilesysIntegrityFail
	BatteryIsLow
	BatteryIsInsufficient
	UsbCommFail
	RtcOnewireCommFail
	AccelCommFail
	HeartbeatGpioFail
	GreenkeyGpioFail
	ErrShellUnsupportedClamshell
	ErrShellClamshellAuthFail
	ErrShellClamshellOnewireShort
	ErrUsedClamshellIdMismatch
	UnsupportedAdapterDetected
	UnknownAdapterDetected
	AdapterAuthFail
	AdapterCrcFail
	AdapterSgCoeffZero
	AdapterOnewireShort
	HandleEolZeroProcedureCount
	HandleEolZeroFireCount
	OnewireNvmTestFailPermFailWop
	OnewireShortNoDevice
	HandleProcedureFireCountTestFailed

	// numCauses is one past the last valid cause, mirroring LAST_ERROR_CAUSE.
	numCauses
)

// Signal is one outward-published identifier. Several causes may map to the
// same signal; the mapping is intentionally many-to-one.
type Signal int

const (
	NoSignal Signal = iota
	ReqRstSig
	PermFailSig
	HandleEolSig
	AccelErrSig
	SystemFaultSig
	BattCommSig
	BattTempSig
	BattShutdnSig
	BattWarnSig
	BattEolSig
	SdCardErrorSig
	HandleMemSig
	PiezoErrorSig
	FilesysIntegritySig
	BatteryLowSig
	BatteryLevelInsuffSig
	UsbErrorSig
	RtcErrorSig
	HbeatGpioFailSig
	GnKeyLedSig
	ErrShellSig
	UsedShellSig
	UnsupportedAdapterSig
	AdapterErrorSig
	PermFailWopSig
	ErrorOwShortNoDeviceSig
	HandleFireProcedureCountTestSig
)

func (s Signal) String() string {
	if n, ok := signalNames[s]; ok {
		return n
	}
	return "UNKNOWN_SIG"
}

var signalNames = map[Signal]string{
	NoSignal:                        "LAST_SIG",
	ReqRstSig:                       "P_REQ_RST_SIG",
	PermFailSig:                     "P_PERM_FAIL_SIG",
	HandleEolSig:                    "P_HANDLE_EOL_SIG",
	AccelErrSig:                     "P_ACCELERR_SIG",
	SystemFaultSig:                  "P_SYSTEM_FAULT_SIG",
	BattCommSig:                     "P_BATT_COMM_SIG",
	BattTempSig:                     "P_BATT_TEMP_SIG",
	BattShutdnSig:                   "P_BATT_SHUTDN_SIG",
	BattWarnSig:                     "P_BATT_WARN_SIG",
	BattEolSig:                      "P_BATT_EOL_SIG",
	SdCardErrorSig:                  "P_SDCARD_ERROR_SIG",
	HandleMemSig:                    "P_HANDLE_MEM_SIG",
	PiezoErrorSig:                   "P_PIEZO_ERROR_SIG",
	FilesysIntegritySig:             "P_FILESYS_INTEGRITY_SIG",
	BatteryLowSig:                   "P_BATTERY_LOW_SIG",
	BatteryLevelInsuffSig:           "P_BATTERY_LEVEL_INSUFF_SIG",
	UsbErrorSig:                     "P_USB_ERROR_SIG",
	RtcErrorSig:                     "P_RTC_ERROR_SIG",
	HbeatGpioFailSig:                "P_HBEAT_GPIOFAIL_SIG",
	GnKeyLedSig:                     "P_GNKEY_LED_SIG",
	ErrShellSig:                     "P_ERR_SHELL_SIG",
	UsedShellSig:                    "P_USED_SHELL_SIG",
	UnsupportedAdapterSig:           "P_UNSUPPORTED_ADAPTER_SIG",
	AdapterErrorSig:                 "P_ADAPTER_ERROR_SIG",
	PermFailWopSig:                  "P_PERM_FAIL_WOP_SIG",
	ErrorOwShortNoDeviceSig:         "P_ERROR_OWSHORT_NO_DEVICE_SIG",
	HandleFireProcedureCountTestSig: "P_HANDLE_FIRE_PROCEDURE_COUNT_TEST_SIG",
}

// causeInfo is one row of the dense cause->signal table.
type causeInfo struct {
	text   string
	signal Signal
}

// causeTable mirrors CauseToSig_Table exactly: one row per Cause, in
// declaration order, with no gaps. Direct indexing, not a map, matches the
// original's "dense const table... lookup is direct indexing" design note.
var causeTable = [numCauses]causeInfo{
	NoErrorCause:                        {"NO ERROR CAUSE", NoSignal},
	ReqRstFPGASelfTestFail:               {"ERR_REQ_RST, FPGA SELF TEST FAIL", ReqRstSig},
	ReqRstMotorTestFail:                  {"ERR_REQ_RST, MOTOR TEST FAIL", ReqRstSig},
	ReqRstBattOnewireReadError:           {"ERR_REQ_RST, BATT ONEWIRE READ ERROR", ReqRstSig},
	ReqRstBattOnewireWriteError:          {"ERR_REQ_RST, BATT ONEWIRE WRITE ERROR", ReqRstSig},
	ReqRstI2CBusLockup:                   {"ERR_REQ_RST, I2C BUS LOCKUP", ReqRstSig},
	PermfailOledSelfTest:                 {"PERMFAIL, OLEDSELFTEST", PermFailSig},
	PermfailOnewireMasterCommFail:        {"PERMFAIL, ONEWIREMASTER COMMFAIL", PermFailSig},
	PermfailOnewireAuthFail:              {"PERMFAIL, ONEWIRE AUTHENTICATE FAIL", PermFailSig},
	PermfailOnewireWriteFail:             {"PERMFAIL, ONEWIRE WRITE FAIL", PermFailSig},
	PermfailOnewireReadFail:              {"PERMFAIL, ONEWIRE READ FAIL", PermFailSig},
	PermfailOnewireShort:                 {"PERMFAIL, ONEWIRE SHORT", PermFailSig},
	PermfailBatteryOnewireSelfTestFail:   {"PERMFAIL, BATTERY ONEWIRE SELFTEST FAIL", PermFailSig},
	HandleEolZeroBattChargeCycle:         {"HANDLE_EOL ZERO BATT CHARGECYCLE", HandleEolSig},
	AccelSelfTestFail:                    {"ACCEL SELFTEST FAIL", AccelErrSig},
	ReqRstMcuHardFault:                   {"ERR_REQ_RST, MCU HARD FAULTS", ReqRstSig},
	ReqRstRamIntegrityFail:               {"ERR_REQ_RST, RAM INTEGRITY TEST FAIL", ReqRstSig},
	ReqRstProgramFlashIntegrityFail:      {"ERR_REQ_RST, PROGRAM FLASH INTEGRITY FAIL", ReqRstSig},
	ReqRstMemoryFenceError:               {"ERR_REQ_RST, MEMORY FENCE ERROR", ReqRstSig},
	ReqRstFpgaReadFail:                   {"ERR_REQ_RST, FPGA READ FAIL", ReqRstSig},
	ReqRstMotorStallsNotCommanded:        {"ERR_REQ_RST, MOTOR STALL NOT COMMANDED", ReqRstSig},
	ReqRstGpioExpCommFail:                {"ERR_REQ_RST, GPIO EXP COMM FAIL", ReqRstSig},
	ReqRstWatchdogInitFail:               {"ERR_REQ_RST, WATCHDOG INIT", ReqRstSig},
	ReqRstTaskMonitorFail:                {"ERR_REQ_RST_TASKMONITOR FAIL", ReqRstSig},
	ReqRstSystemFault:                    {"REQRST_MOO_SYSTEM_FAULT, System Fault", SystemFaultSig},
	ReqRstBattOnewireWriteFail:           {"ERR_REQ_RST, BATT ONEWIRE WRITE FAIL", ReqRstSig},
	ReqRstBattOnewireReadFail:            {"ERR_REQ_RST, BATT ONEWIRE READ FAIL", ReqRstSig},
	BatteryCommFail:                      {"BATT COMM FAIL", BattCommSig},
	BatteryTempOutOfRange:                {"BATT TEMP OUT OF RANGE", BattTempSig},
	BattShutdnVoltageTooLow:              {"BATT SHUTDOWN, VOLTAGE INSUFFICIENT", BattShutdnSig},
	BattWarnChargeCycleIncrement:         {"BATT WARNING, CHARGECYCLE MAXIMUM", BattWarnSig},
	BattChargeCycleEol:                   {"BATTERY EOL, CHARGECYCLES EXCEEDED", BattEolSig},
	SdCardMissing:                        {"SD CARD NOT PRESENT", SdCardErrorSig},
	PermfailBattOnewireShort:             {"PERMFAIL, BATT ONEWIRE SHORT", PermFailSig},
	PermfailBattOnewireAuthFail:          {"PERMFAIL, BATT ONEWIRE AUTHENTICATE FAIL", PermFailSig},
	HandleMemoryError:                    {"HANDLE MEMORY ERROR", HandleMemSig},
	PiezoGpioFail:                        {"PIEZO GPIO FAIL", PiezoErrorSig},
	FilesysIntegrityFail:                 {"FILE SYS INTEGRITY", FilesysIntegritySig},
	BatteryIsLow:                         {"BATT LOW, 9%< BATT CAPACITY <= 25%", BatteryLowSig},
	BatteryIsInsufficient:                {"BATT INSUFF, BATT CAPACITY <=9%", BatteryLevelInsuffSig},
	UsbCommFail:                          {"USB COMM FAIL", UsbErrorSig},
	RtcOnewireCommFail:                   {"RTC ONEWIRE COMM FAIL", RtcErrorSig},
	AccelCommFail:                        {"ACCEL COMM FAIL", AccelErrSig},
	HeartbeatGpioFail:                    {"HEARTBEAT GPIO FAIL", HbeatGpioFailSig},
	GreenkeyGpioFail:                     {"GREENKEY GPIO FAIL", GnKeyLedSig},
	ErrShellUnsupportedClamshell:         {"UNSUPPORTED CLAMSHELL", ErrShellSig},
	ErrShellClamshellAuthFail:            {"CLAMSHELL AUTHENTICATE FAIL", ErrShellSig},
	ErrShellClamshellOnewireShort:        {"CLAMSHELL ONEWIRE SHORT", ErrShellSig},
	ErrUsedClamshellIdMismatch:           {"USED CLAMSHELL, ID DOESN'T MATCH", UsedShellSig},
	UnsupportedAdapterDetected:           {"UNSUPPORTED ADAPTER DETECTED", UnsupportedAdapterSig},
	UnknownAdapterDetected:               {"UNKNOWN ADAPTER DETECTED", AdapterErrorSig},
	AdapterAuthFail:                      {"ADAPTER AUTHENTICATE FAIL", AdapterErrorSig},
	AdapterCrcFail:                       {"ADAPTER CRC FAIL", AdapterErrorSig},
	AdapterSgCoeffZero:                   {"STRAIN GAUGE COEFF ZERO", AdapterErrorSig},
	AdapterOnewireShort:                  {"ADAPTER ONEWIRE SHORT", AdapterErrorSig},
	HandleEolZeroProcedureCount:          {"HANDLE EOL, ZERO PROCEDURE COUNT", HandleEolSig},
	HandleEolZeroFireCount:               {"HANDLE EOL, ZERO FIRE COUNT", HandleEolSig},
	OnewireNvmTestFailPermFailWop:        {"ERR_PERM_FAIL_WOP, ONEWIRE DEVICE NVM TEST FAIL", PermFailWopSig},
	OnewireShortNoDevice:                 {"ONEWIRE SHORT NO DEVICE", ErrorOwShortNoDeviceSig},
	HandleProcedureFireCountTestFailed:   {"HANDLE PROCEDURE FIRE COUNT TEST FAILED", HandleFireProcedureCountTestSig},
}

// Text returns the human-readable cause string from the dense table.
func (c Cause) Text() string {
	if c <= NoErrorCause || c >= numCauses {
		return "UNKNOWN CAUSE"
	}
	return causeTable[c].text
}

// SignalFor returns the signal a cause maps to, or NoSignal if the cause is
// out of the enumerated range.
func SignalFor(c Cause) Signal {
	if c <= NoErrorCause || c >= numCauses {
		return NoSignal
	}
	return causeTable[c].signal
}

// Valid reports whether c is a real, publishable cause (excludes the
// sentinel and anything out of range).
func (c Cause) Valid() bool {
	return c > NoErrorCause && c < numCauses
}
