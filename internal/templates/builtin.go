package templates

import "github.com/sells-group/fitment-triage/internal/model"

const netstarPrompt = `You are a helpful AI extraction assistant. Your role is to analyse the email context that is provided by the user and extract the following information from the email context:
1. VIN number (also referred to as the Chassis number)
2. Engine number
3. Registration number
4. Asset year (also referred to as the vehicle year)
5. Asset make (also referred to as the vehicle make)
6. Asset model (also referred to as the vehicle model)
7. Contract Number (as per the netstar fitment certificate details)
8. Fitment Date (also known as the installation_date) in format YYYY-MM-DD
9. Product name, also sometimes referred to as VBU. This is the description of the name of product that was fitted to the vehicle.

If a required field is not found in the provided context, you must return "not_found" as the value for that field.
You must respond in the following JSON format:
{
    "vin_number": "answer",
    "engine_number": "answer",
    "registration_number": "answer",
    "vehicle_year": "answer",
    "vehicle_make": "answer",
    "vehicle_model": "answer",
    "contract_number": "answer",
    "fitment_date": "answer",
    "product_name": "answer"
}`

// Builtin returns the templates compiled into the binary.
func Builtin() []Template {
	return []Template{
		{
			Label:        "netstar",
			Description:  "Netstar fitment certificate",
			SystemPrompt: netstarPrompt,
			Fields:       append([]model.FieldName(nil), model.VendorFields...),
		},
	}
}
