package redis

import "fmt"

const keyPrefix = "childmon"

// MetaDocID is the controls document holding child-wide settings.
const MetaDocID = "meta"

func controlsIndexKey(familyID, childID string) string {
	return fmt.Sprintf("%s:families:%s:children:%s:appControls", keyPrefix, familyID, childID)
}

func controlsDocKey(familyID, childID, docID string) string {
	return controlsIndexKey(familyID, childID) + ":" + docID
}

func controlsChannel(familyID, childID string) string {
	return fmt.Sprintf("%s:changes:families:%s:children:%s:appControls", keyPrefix, familyID, childID)
}

func remoteStatusIndexKey(childID string) string {
	return fmt.Sprintf("%s:children:%s:remoteStatus", keyPrefix, childID)
}

func remoteStatusDocKey(childID, packageName string) string {
	return remoteStatusIndexKey(childID) + ":" + packageName
}

func remoteStatusChannel(childID string) string {
	return fmt.Sprintf("%s:changes:children:%s:remoteStatus", keyPrefix, childID)
}

func deviceKey(deviceID string) string {
	return fmt.Sprintf("%s:devices:%s", keyPrefix, deviceID)
}

func dailyUsageKey(deviceID, date string) string {
	return fmt.Sprintf("%s:usage:daily:%s:%s", keyPrefix, deviceID, date)
}
