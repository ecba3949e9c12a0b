package vault

import "attendance-ingest/internal/storage"

// WithDecryptedSecrets returns a copy of device, and of its vendor config,
// with every secret field decrypted. Values that cannot be decrypted are
// kept as stored. The argument is not modified. Never log the result.
func (v *Vault) WithDecryptedSecrets(device storage.Device) storage.Device {
	out := device
	out.Password = v.Decrypt(device.Password).OrRaw()

	if device.VendorConfig != nil {
		vc := *device.VendorConfig
		vc.APIKey = v.Decrypt(vc.APIKey).OrRaw()
		vc.APISecret = v.Decrypt(vc.APISecret).OrRaw()
		out.VendorConfig = &vc
	}
	return out
}
