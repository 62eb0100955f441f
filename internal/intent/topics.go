package intent

// Topic names, in priority order.
const (
	TopicElectricity = "electricity"
	TopicWater       = "water"
	TopicForms       = "forms"
	TopicHealth      = "health"
	TopicFarming     = "farming"
	TopicGreeting    = "greeting"
)

// FallbackReply asks the citizen to be more specific.
const FallbackReply = "मैं आपकी बात समझ गया हूं। आपकी मदद के लिए मैं यहाँ हूं। कृपया थोड़ा और specific बताएं:\n\n• कौन सा काम करवाना है?\n• कौन सा फॉर्म भरना है?\n• कोई शिकायत करनी है?\n\nआप बोलकर भी बता सकते हैं, मैं सुन रहा हूं और समझ जाऊंगा।"

// DefaultTopics returns the public-services keyword table. Order matters:
// "बिजली और पानी" resolves to electricity.
func DefaultTopics() []Topic {
	return []Topic{
		{
			Name:     TopicElectricity,
			Keywords: []string{"बिजली", "electricity", "light"},
			Reply:    "बिजली की समस्या के लिए मैं आपकी पूरी मदद करूंगा। आपको क्या चाहिए:\n\n1. नया बिजली कनेक्शन\n2. बिजली बिल की समस्या\n3. बिजली नहीं आ रही\n4. मीटर की समस्या\n\nकृपया बताएं कि कौन सी समस्या है? मैं तुरंत फॉर्म भरने या शिकायत दर्ज करने में मदद करूंगा।",
		},
		{
			Name:     TopicWater,
			Keywords: []string{"पानी", "water"},
			Reply:    "पानी की समस्या के लिए मैं यहाँ हूं। बताइए:\n\n1. नया पानी कनेक्शन चाहिए\n2. पानी नहीं आ रहा\n3. पानी का बिल\n4. पाइप लीक हो रहा है\n\nआप जो भी समस्या बताएंगे, मैं तुरंत संबंधित विभाग में शिकायत दर्ज कर दूंगा और आपको reference number भी दूंगा।",
		},
		{
			Name:     TopicForms,
			Keywords: []string{"फॉर्म", "form"},
			Reply:    "फॉर्म भरने में मैं expert हूं! बताइए कौन सा फॉर्म:\n\n1. सरकारी योजना का फॉर्म\n2. बैंक का फॉर्म\n3. राशन कार्ड\n4. आधार कार्ड\n5. पासपोर्ट\n\nआप बस बोलकर जानकारी दे दीजिए, मैं पूरा फॉर्म भर दूंगा। कोई गलती नहीं होगी।",
		},
		{
			Name:     TopicHealth,
			Keywords: []string{"दवाई", "अस्पताल", "medical", "डॉक्टर"},
			Reply:    "स्वास्थ्य सेवा के लिए मैं तुरंत मदद करूंगा:\n\n1. नजदीकी अस्पताल - मैं आपके area के सबसे पास वाले hospital बता दूंगा\n2. दवाई की दुकान\n3. डॉक्टर की appointment\n4. Emergency number\n\nआपकी location बताइए या कौन सी बीमारी है? मैं तुरंत सही जगह का पता बता दूंगा।",
		},
		{
			Name:     TopicFarming,
			Keywords: []string{"खेती", "farming", "किसान", "फसल"},
			Reply:    "किसान भाई, खेती-बाड़ी की हर समस्या का समाधान यहाँ है:\n\n1. बीज और खाद की जानकारी\n2. सरकारी योजनाएं\n3. फसल बीमा\n4. मंडी के भाव\n5. मौसम की जानकारी\n\nआप कौन सी फसल उगाते हैं? या कोई specific problem है? मैं तुरंत सही guidance दूंगा।",
		},
		{
			Name:     TopicGreeting,
			Keywords: []string{"हैलो", "नमस्कार", "hi"},
			Reply:    "नमस्कार! मैं आपका Digital Saathi हूं। मैं आपकी हर सरकारी काम में मदद कर सकता हूं:\n\n✅ फॉर्म भरना\n✅ शिकायत दर्ज करना\n✅ सरकारी योजनाओं की जानकारी\n✅ अस्पताल, स्कूल खोजना\n\nआप बस बोलकर बताइए कि क्या चाहिए। मैं तुरंत मदद करूंगा!",
		},
	}
}

// QuickActions returns the one-tap prompts offered by the shell. They are
// submitted exactly like typed text.
func QuickActions() []string {
	return []string{
		"🏛️ सरकारी फॉर्म भरना है",
		"💡 बिजली की शिकायत करनी है",
		"💧 पानी की समस्या है",
		"🏥 अस्पताल खोजना है",
		"🚜 खेती की मदद चाहिए",
		"📚 पढ़ाई की जानकारी चाहिए",
	}
}
